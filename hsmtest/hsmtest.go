// Package hsmtest provides small instrumentation helpers for asserting
// the dispatch properties of github.com/hsmcore/hsm ("Run-to-completion
// semantics", "History correctness", etc.) without threading counters
// through a machine's own extended state. It wraps hsm.Tracer, the same
// hook set the core package itself exposes for tracing.
package hsmtest

import "github.com/hsmcore/hsm"

// Counters tallies entries, exits and event matches observed on a
// single state machine instance, keyed by vertex id (for Matches, the id
// of the state whose transition matched). Ignored is keyed by event id,
// since no state is involved when an event is ignored. Attach it with
// Attach before calling Initialize on the instance being observed.
type Counters struct {
	Entries map[int]int
	Exits   map[int]int
	Matches map[int]int
	Ignored map[int]int
}

// NewCounters returns a zeroed Counters ready for use.
func NewCounters() *Counters {
	return &Counters{
		Entries: make(map[int]int),
		Exits:   make(map[int]int),
		Matches: make(map[int]int),
		Ignored: make(map[int]int),
	}
}

// Attach returns an hsm.Tracer that feeds this Counters. Assign the
// result to a StateMachineInstance's Tracer field before Initialize:
//
//	c := hsmtest.NewCounters()
//	smi.Tracer = c.Attach()
// Attach returns an hsm.Tracer that feeds this Counters.
// Counters is scoped to a single instance; the instanceId each hook
// receives is ignored here. To correlate trace lines from several
// concurrently-running instances against one shared sink, wrap
// hsm.Tracer directly and key off instanceId yourself instead of using
// Counters.
func (c *Counters) Attach() hsm.Tracer {
	return hsm.Tracer{
		OnEntry:   func(instanceId string, stateId int) { c.Entries[stateId]++ },
		OnExit:    func(instanceId string, stateId int) { c.Exits[stateId]++ },
		OnMatch:   func(instanceId string, eventId, sourceId int) { c.Matches[sourceId]++ },
		OnIgnored: func(instanceId string, eventId int) { c.Ignored[eventId]++ },
	}
}

// EntryExitBalanced reports whether every observed state's entry count
// equals its exit count, modulo the single outstanding entry of
// whichever state(s) are currently active. Pass the ids of the active
// leaf's ancestor chain (inclusive) as active so they are excused from
// the balance check, implementing spec.md §8's "balanced entry/exit"
// property (P5/L2/L3 in the teacher's terminology).
func (c *Counters) EntryExitBalanced(active map[int]bool) bool {
	for id, entries := range c.Entries {
		exits := c.Exits[id]
		if active[id] {
			if entries != exits+1 {
				return false
			}
		} else if entries != exits {
			return false
		}
	}
	return true
}
