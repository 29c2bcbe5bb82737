// Package hsm implements a hierarchical state machine core conforming to
// the subset of UML State Machine semantics (v2.5.1) covering composite
// states, external/local/internal transitions, shallow and deep history,
// initial pseudostates, and run-to-completion event processing.
//
// A [StateMachine] describes the (immutable, once finalized) topology of
// states, transitions, guards and actions. A [StateMachineInstance] is a
// single, independently-running instance of that topology, holding the
// current active leaf state and the caller's extended state.
package hsm

import (
	"errors"
	"fmt"
)

// Event is delivered to a state machine instance, causing it to evaluate
// transitions and potentially run actions and change states.
// Id identifies the type of event; Data is optional auxiliary payload.
type Event struct {
	Id   int
	Data any
}

// AnonymousEvent is the reserved event id used internally to drive
// completion (anonymous) transitions to run-to-completion quiescence.
// Any transition declared on event id 0 is an anonymous transition: the
// run-to-completion loop that follows Initialize and every consumed event
// takes it whenever its source is on the active chain and its guard
// passes. User-defined event ids should therefore start at 1. Deliver
// does not reject an Event whose Id is 0; it is matched against the
// anonymous transitions like any other id.
const AnonymousEvent = 0

// DispatchResult reports the outcome of a single call to
// [StateMachineInstance.Deliver].
type DispatchResult int

const (
	// Consumed means a transition fired, possibly followed by a chain
	// of anonymous (completion) transitions run to quiescence.
	Consumed DispatchResult = iota
	// Ignored means no state in the active ancestor chain matched the
	// event; the instance's observable state is unchanged.
	Ignored
	// Fatal means an invariant was violated while executing a
	// transition. The instance is now in its terminal Fatal state and
	// will ignore all further events; see [StateMachineInstance.LastError].
	Fatal
)

func (r DispatchResult) String() string {
	switch r {
	case Consumed:
		return "Consumed"
	case Ignored:
		return "Ignored"
	case Fatal:
		return "Fatal"
	default:
		return fmt.Sprintf("DispatchResult(%d)", int(r))
	}
}

// Sentinel errors identifying the structural failures that can place a
// StateMachineInstance into its Fatal state. Test against them with
// errors.Is; [StateMachineInstance.LastError] wraps one of these with
// the state/event ids involved.
var (
	// ErrUnreachableSource means the transition's source state was not
	// an ancestor of (or equal to) the currently active leaf during the
	// exit walk. This can only happen if the topology was mutated after
	// Finalize, which this package never does on its own.
	ErrUnreachableSource = errors.New("hsm: transition source is not an ancestor of the active state")
	// ErrMissingLCA means the source and target states belong to
	// disjoint trees (no common ancestor was found).
	ErrMissingLCA = errors.New("hsm: source and target states share no common ancestor")
	// ErrUnreachableTarget means the enter walk could not construct a
	// path from the computed LCA down to the transition's target. This
	// can only happen if the topology was mutated after Finalize (the
	// same precondition as ErrUnreachableSource): a valid LCA is by
	// construction an ancestor of target, so the downward walk from
	// target to lca is guaranteed to terminate against a Finalized,
	// unmutated topology.
	ErrUnreachableTarget = errors.New("hsm: transition target is not a descendant of the computed LCA")
	// ErrReentrantDispatch means Deliver was called from within a hook
	// (match guard, action, entry, exit) of an in-progress dispatch on
	// the same instance.
	ErrReentrantDispatch = errors.New("hsm: dispatch invoked re-entrantly from within a hook")
	// ErrAnonymousLivelock means the chain of anonymous (completion)
	// transitions exceeded the configured bound without reaching
	// quiescence; see StateMachineInstance.MaxAnonymousChain.
	ErrAnonymousLivelock = errors.New("hsm: anonymous transition chain did not reach quiescence")
	// ErrNotInitialized is the value Deliver and Current panic with when
	// called before Initialize. InState does not panic; it reports false.
	ErrNotInitialized = errors.New("hsm: state machine instance not initialized")
)

// dispatchError wraps one of the sentinel errors above with the
// transition context active when it was raised.
type dispatchError struct {
	err     error
	eventId int
	detail  string
}

func (e *dispatchError) Error() string {
	if e.detail == "" {
		return fmt.Sprintf("%s (event %d)", e.err, e.eventId)
	}
	return fmt.Sprintf("%s (event %d): %s", e.err, e.eventId, e.detail)
}

func (e *dispatchError) Unwrap() error { return e.err }
