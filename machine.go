package hsm

import (
	"fmt"

	"github.com/google/uuid"
)

// StateMachine encapsulates the structure of an entire state machine:
// its states, transitions, guards and actions. StateMachine describes
// topology only; to run it, deliver events to it, and drive it through
// transitions, create a [StateMachineInstance] bound to it.
//
// A StateMachine must be [StateMachine.Finalize]d before any
// [StateMachineInstance] can be created against it, and its topology is
// immutable after that point.
type StateMachine[E any] struct {
	// LocalDefault makes every transition from a composite state to one
	// of its strict descendants local, as if [TransitionBuilder.Local] had
	// been called on it. No builder call makes such a transition external
	// while LocalDefault is set. See UML's notion of a region-wide default.
	LocalDefault bool

	top      State[E]
	terminal State[E]

	idSeq              int
	stateBuilders      []*StateBuilder[E]
	transitionBuilders []*TransitionBuilder[E]
	states             []*State[E]
	vertices           []Vertex
	finalized          bool
}

func (sm *StateMachine[E]) nextID() int {
	id := sm.idSeq
	sm.idSeq++
	return id
}

// ensureInit lazily wires the virtual root (sm.top) and the synthetic
// termination sink (sm.terminal) the first time the StateMachine is
// used. Top-level states and the terminal sink are all ordinary children
// of that invisible root, so the LCA walk (machine.go) and the PlantUML dump (diagram.go) need no
// special case for top-level states.
func (sm *StateMachine[E]) ensureInit() {
	if sm.top.sm != nil {
		return
	}
	sm.top.sm = sm
	sm.top.id = sm.nextID()
	sm.top.depth = -1

	sm.terminal.sm = sm
	sm.terminal.id = sm.nextID()
	sm.terminal.parent = &sm.top
	sm.terminal.name = "$terminal"
	sm.terminal.alias = "[*]"
	sm.terminal.depth = 0
	sm.top.children = append(sm.top.children, &sm.terminal)
}

func (sm *StateMachine[E]) trackStateBuilder(sb *StateBuilder[E]) {
	sm.stateBuilders = append(sm.stateBuilders, sb)
}

func (sm *StateMachine[E]) untrackStateBuilder(sb *StateBuilder[E]) {
	for i, b := range sm.stateBuilders {
		if b == sb {
			sm.stateBuilders = append(sm.stateBuilders[:i], sm.stateBuilders[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("state %s builder: invalid attempt to use the same builder twice", sb.name))
}

func (sm *StateMachine[E]) trackTransitionBuilder(tb *TransitionBuilder[E]) {
	sm.transitionBuilders = append(sm.transitionBuilders, tb)
}

func (sm *StateMachine[E]) untrackTransitionBuilder(tb *TransitionBuilder[E]) {
	for i, b := range sm.transitionBuilders {
		if b == tb {
			sm.transitionBuilders = append(sm.transitionBuilders[:i], sm.transitionBuilders[i+1:]...)
			return
		}
	}
	panic("invalid attempt to use the same transition builder twice")
}

// State creates a builder for a new top-level state.
func (sm *StateMachine[E]) State(name string) *StateBuilder[E] {
	sm.ensureInit()
	return sm.top.State(name)
}

// Finalize validates the topology built so far (invariants I1-I5, T1-T2,
// every builder obtained having been Built, a reachable leaf existing
// under every state that can become active) and freezes it. It must be
// called exactly once, after all states and transitions are declared and
// before any [StateMachineInstance] is created.
func (sm *StateMachine[E]) Finalize() {
	sm.ensureInit()

	if len(sm.stateBuilders) > 0 {
		b := sm.stateBuilders[0]
		panic(fmt.Sprintf("state %s builder left unused. Forgotten call to Build()?", b.name))
	}
	if len(sm.transitionBuilders) > 0 {
		b := sm.transitionBuilders[0]
		panic(fmt.Sprintf("transition builder for event %d, %s --> %s left unused. Forgotten call to Build()?",
			b.t.eventId, b.src.name, b.t.target.name))
	}
	if sm.top.initial == nil {
		panic("state machine must have initial sub-state")
	}
	sm.top.validate()

	var rec func(*State[E])
	rec = func(s *State[E]) {
		for _, t := range s.transitions {
			if t.history != HistoryNone {
				// Lazily attach the history pseudostate declared by
				// TransitionBuilder.History so it exists by the time any
				// instance initializes.
				t.target.History(t.history)
			}
			t.target.validate()
		}
		for _, c := range s.children {
			rec(c)
		}
	}
	rec(&sm.top)

	sm.states = sm.collectStates()
	sm.vertices = make([]Vertex, sm.idSeq)
	for _, s := range sm.states {
		sm.vertices[s.id] = s
		if s.shallowHistory != nil {
			sm.vertices[s.shallowHistory.id] = s.shallowHistory
		}
		if s.deepHistory != nil {
			sm.vertices[s.deepHistory.id] = s.deepHistory
		}
	}
	sm.finalized = true
}

func (sm *StateMachine[E]) collectStates() []*State[E] {
	var out []*State[E]
	var rec func(*State[E])
	rec = func(s *State[E]) {
		out = append(out, s)
		for _, c := range s.children {
			rec(c)
		}
	}
	rec(&sm.top)
	return out
}

// Vertex looks up a vertex (state or history pseudostate) by its id, as
// assigned at construction time. Valid only after Finalize.
func (sm *StateMachine[E]) Vertex(id int) (Vertex, bool) {
	if id < 0 || id >= len(sm.vertices) || sm.vertices[id] == nil {
		return nil, false
	}
	return sm.vertices[id], true
}

// MaxID returns the upper bound (exclusive) on vertex ids assigned by
// this StateMachine. Valid only after Finalize.
func (sm *StateMachine[E]) MaxID() int {
	return sm.idSeq
}

// instanceStatus implements the dispatcher's own small state machine,
// spec'd in spec.md §4.3.6: Uninitialized -> Idle -> Dispatching -> Idle,
// with Fatal as a terminal sink reachable from Dispatching.
type instanceStatus int

const (
	instanceUninitialized instanceStatus = iota
	instanceIdle
	instanceDispatching
	instanceFatal
)

// Tracer is an optional set of trace hook points, each given the
// instance id plus the relevant ids, as specified in spec.md §6. A nil
// field is treated as a no-op. These are the only side-channel
// observability this package offers; there is no built-in structured
// logger, per spec.md §1's scoping of tracing sinks as an external
// collaborator. instanceId is [StateMachineInstance.InstanceID], so a
// host running many concurrently-dispatching instances of the same
// StateMachine can demultiplex one shared trace sink back to the
// instance each line came from.
type Tracer struct {
	// OnEntry fires immediately before the user entry function runs for
	// a state, in outermost-first order during the entry walk.
	OnEntry func(instanceId string, stateId int)
	// OnExit fires immediately before the user exit function runs for a
	// state, in innermost-first order during the exit walk.
	OnExit func(instanceId string, stateId int)
	// OnMatch fires whenever a transition is selected, before it is
	// executed — including for Internal transitions.
	OnMatch func(instanceId string, eventId, sourceId int)
	// OnIgnored fires whenever bubble-up from the active state found no
	// matching transition for eventId.
	OnIgnored func(instanceId string, eventId int)
}

// StateMachineInstance is one running instance of a [StateMachine]. Each
// instance should have its own independent extended state Ext; many
// instances may share the same (already-Finalized) StateMachine and run
// concurrently in different goroutines, provided each instance's own
// Deliver calls are serialized by its caller (dispatch is not
// re-entrant and not internally synchronized, per spec.md §5).
type StateMachineInstance[E any] struct {
	SM  *StateMachine[E]
	Ext E

	// Tracer receives the four optional trace hooks; zero value is all
	// no-ops.
	Tracer Tracer
	// Assert, if set, is invoked with cond=false and a description
	// whenever this instance transitions to Fatal. Hosted/embedded
	// environments can route this to their own crash/abort mechanism;
	// left nil, the instance simply records the error for LastError.
	Assert func(cond bool, msg string)
	// MaxAnonymousChain bounds the number of chained anonymous
	// transitions drained per Deliver/Initialize call. Zero means
	// unbounded (trust the machine's author that no anonymous cycle
	// exists, per spec.md §9's livelock note).
	MaxAnonymousChain int

	instanceID string
	current    *State[E]
	status     instanceStatus
	lastErr    error
	scratch    []*State[E]
	busy       bool
}

// InstanceID returns a diagnostic identifier for this instance, minted
// lazily (a random UUIDv4) on first use so trace lines from many
// concurrently-running instances of the same StateMachine can be told
// apart. It plays no role in the dispatch algorithm itself.
func (smi *StateMachineInstance[E]) InstanceID() string {
	if smi.instanceID == "" {
		smi.instanceID = uuid.NewString()
	}
	return smi.instanceID
}

// LastError returns the error that moved this instance to Fatal, or nil
// if it never has been.
func (smi *StateMachineInstance[E]) LastError() error {
	return smi.lastErr
}

// Current returns the currently active leaf state. Panics if called
// before Initialize.
func (smi *StateMachineInstance[E]) Current() *State[E] {
	if smi.status == instanceUninitialized {
		panic(ErrNotInitialized)
	}
	return smi.current
}

// InState reports whether id names the active leaf or any of its
// ancestors — i.e. whether the instance is "in" that state, UML-style.
func (smi *StateMachineInstance[E]) InState(id int) bool {
	for w := smi.current; w != nil; w = w.parent {
		if w.id == id {
			return true
		}
	}
	return false
}

// Initialize drives the instance from Uninitialized to Idle: it runs
// every state's one-shot Init hook (initializing any owned history
// pseudostates along the way, spec.md §4.2), then descends from the
// declared top-level initial state through initial sub-states to a
// leaf, invoking Entry in outermost-first order, then drains any
// resulting chain of anonymous transitions to quiescence. e is passed
// to every Entry call (Init hooks receive only Ext); its Id is typically
// irrelevant and a negative sentinel is conventional.
func (smi *StateMachineInstance[E]) Initialize(e Event) {
	sm := smi.SM
	if !sm.finalized {
		panic("hsm: state machine not finalized")
	}
	if smi.busy {
		panic(ErrReentrantDispatch)
	}
	if smi.status != instanceUninitialized {
		panic("hsm: Initialize called more than once")
	}
	smi.busy = true
	defer func() { smi.busy = false }()

	smi.scratch = make([]*State[E], sm.idSeq)

	for _, s := range sm.states {
		if s.shallowHistory != nil {
			s.shallowHistory.init()
		}
		if s.deepHistory != nil {
			s.deepHistory.init()
		}
		if s.init != nil {
			s.init(smi.Ext)
		}
	}

	for w := sm.top.initial; w != nil; w = w.initial {
		smi.enterState(w, e)
		smi.current = w
	}

	if smi.drainAnonymous() == Fatal {
		return
	}
	smi.status = instanceIdle
}

// Deliver processes one event to run-to-completion quiescence: it
// selects at most one transition for e via bubble-up matching, executes
// it, then repeatedly selects and executes anonymous (completion)
// transitions until none match. See spec.md §4.3.2-§4.3.4 for the exact
// algorithm and spec.md §7 for the error taxonomy behind Fatal.
func (smi *StateMachineInstance[E]) Deliver(e Event) DispatchResult {
	if smi.busy {
		return smi.fail(&dispatchError{err: ErrReentrantDispatch, eventId: e.Id})
	}
	switch smi.status {
	case instanceUninitialized:
		panic(ErrNotInitialized)
	case instanceFatal:
		return Fatal
	}

	smi.busy = true
	smi.status = instanceDispatching
	defer func() { smi.busy = false }()

	res := smi.dispatchOnce(e)
	if res == Fatal {
		return Fatal
	}
	if res == Consumed {
		if smi.drainAnonymous() == Fatal {
			return Fatal
		}
	}
	if smi.status == instanceFatal {
		// A hook invoked during this dispatch (action, guard, entry,
		// exit) re-entrantly called Deliver on this same instance; that
		// nested call already recorded the Fatal error and status. Honor
		// it here rather than overwriting it back to Idle.
		return Fatal
	}
	smi.status = instanceIdle
	return res
}

func (smi *StateMachineInstance[E]) dispatchOnce(e Event) DispatchResult {
	src, t := smi.matchFromActive(e)
	if t == nil {
		if smi.Tracer.OnIgnored != nil {
			smi.Tracer.OnIgnored(smi.InstanceID(), e.Id)
		}
		return Ignored
	}
	if smi.Tracer.OnMatch != nil {
		smi.Tracer.OnMatch(smi.InstanceID(), e.Id, src.id)
	}
	if t.kind == transInternal {
		if t.action != nil {
			t.action(e, smi.Ext)
		}
		return Consumed
	}
	return smi.execute(e, src, t)
}

// drainAnonymous repeatedly selects and executes transitions triggered
// by AnonymousEvent until bubble-up finds none, implementing the RTC
// fixed point of spec.md §4.3.4.
func (smi *StateMachineInstance[E]) drainAnonymous() DispatchResult {
	steps := 0
	for {
		ae := Event{Id: AnonymousEvent}
		src, t := smi.matchFromActive(ae)
		if t == nil {
			if smi.Tracer.OnIgnored != nil {
				smi.Tracer.OnIgnored(smi.InstanceID(), AnonymousEvent)
			}
			return Consumed
		}
		if smi.Tracer.OnMatch != nil {
			smi.Tracer.OnMatch(smi.InstanceID(), AnonymousEvent, src.id)
		}
		steps++
		if smi.MaxAnonymousChain > 0 && steps > smi.MaxAnonymousChain {
			return smi.fail(&dispatchError{err: ErrAnonymousLivelock, eventId: AnonymousEvent})
		}
		if t.kind == transInternal {
			if t.action != nil {
				t.action(ae, smi.Ext)
			}
			continue
		}
		if smi.execute(ae, src, t) == Fatal {
			return Fatal
		}
	}
}

// matchFromActive implements spec.md §4.3.2: starting at the active
// leaf, try every transition for e.Id whose guard (if any) passes;
// advance to the parent on failure; stop at the root.
func (smi *StateMachineInstance[E]) matchFromActive(e Event) (*State[E], *transition[E]) {
	for src := smi.current; src != nil; src = src.parent {
		for _, t := range src.transitions {
			if t.eventId == e.Id && (t.guard == nil || t.guard(e, smi.Ext)) {
				return src, t
			}
		}
	}
	return nil, nil
}

// execute runs the exit/effect/entry algorithm of spec.md §4.3.3 for a
// resolved External or Local transition t from src.
func (smi *StateMachineInstance[E]) execute(e Event, src *State[E], t *transition[E]) DispatchResult {
	target := t.target
	if t.history != HistoryNone {
		target = target.historyFor(t.history).resolve()
	}

	// a/b. Exit down from the active leaf to src (exclusive of src).
	w := smi.current
	for w != src {
		if w == nil {
			return smi.fail(&dispatchError{err: ErrUnreachableSource, eventId: e.Id})
		}
		smi.exitState(w, e)
		w = w.parent
	}

	// c. LCA(src, target).
	lca := lcaState(src, target)
	if lca == nil {
		return smi.fail(&dispatchError{err: ErrMissingLCA, eventId: e.Id})
	}

	selfExternal := t.kind == transExternal && lca == src
	// Degenerate local transition (active == lca == target): per
	// spec.md §9's resolution of this source ambiguity, no entry/exit
	// fires but the effect still runs. Unreachable in practice because
	// TransitionBuilder.Local already rejects target == source, but kept
	// as a defensive branch since the spec calls out the behavior
	// explicitly.
	degenerate := t.kind == transLocal && smi.current == lca && lca == target

	if !degenerate {
		// d. Exit up to (excluding) the LCA.
		for w != lca {
			smi.exitState(w, e)
			w = w.parent
		}
		// e. Self-external transition at the LCA: also exit it.
		if selfExternal {
			smi.exitState(lca, e)
		}
	}

	// f. Effect, between any self-exit and self-entry of the LCA.
	if t.action != nil {
		t.action(e, smi.Ext)
	}

	leaf := target
	if !degenerate {
		if selfExternal {
			smi.enterState(lca, e)
		}
		// g. Build the downward path LCA -> ... -> target using the
		// instance's scratch "next-child" slot, then walk down entering
		// each state from the LCA's child through target. A valid lca is
		// by construction an ancestor of target, so this walk is only
		// ever unreachable if the topology was mutated after Finalize —
		// the same precondition ErrUnreachableSource guards on the exit
		// side; kept as a defensive check for the same reason.
		for s := target; s != lca; s = s.parent {
			if s == nil {
				return smi.fail(&dispatchError{err: ErrUnreachableTarget, eventId: e.Id})
			}
			smi.scratch[s.parent.id] = s
		}
		for s := lca; s != target; {
			child := smi.scratch[s.id]
			smi.enterState(child, e)
			s = child
		}
	}

	// h. Descend initial pseudostates to a leaf.
	for leaf.initial != nil {
		leaf = leaf.initial
		smi.enterState(leaf, e)
	}

	// i. Commit.
	smi.current = leaf
	updateHistories(leaf)
	return Consumed
}

func (smi *StateMachineInstance[E]) enterState(s *State[E], e Event) {
	if smi.Tracer.OnEntry != nil {
		smi.Tracer.OnEntry(smi.InstanceID(), s.id)
	}
	if s.entry != nil {
		s.entry(e, smi.Ext)
	}
}

func (smi *StateMachineInstance[E]) exitState(s *State[E], e Event) {
	if smi.Tracer.OnExit != nil {
		smi.Tracer.OnExit(smi.InstanceID(), s.id)
	}
	if s.exit != nil {
		s.exit(e, smi.Ext)
	}
}

func (smi *StateMachineInstance[E]) fail(err error) DispatchResult {
	smi.lastErr = err
	smi.status = instanceFatal
	if smi.Assert != nil {
		smi.Assert(false, err.Error())
	}
	return Fatal
}

// lcaState returns the least common ancestor of a and b, walking
// whichever is deeper up first (using the cached depth field) then both
// together, per spec.md §4.3.3.c. Returns nil if they belong to
// disjoint trees.
func lcaState[E any](a, b *State[E]) *State[E] {
	for a.depth > b.depth {
		a = a.parent
	}
	for b.depth > a.depth {
		b = b.parent
	}
	for a != b {
		if a == nil || b == nil {
			return nil
		}
		a = a.parent
		b = b.parent
	}
	return a
}
