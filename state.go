package hsm

import (
	"fmt"
	"strings"
)

// VertexKind distinguishes the three kinds of node that can appear in a
// state machine's graph.
type VertexKind int

const (
	VertexState VertexKind = iota
	VertexHistoryShallow
	VertexHistoryDeep
)

func (k VertexKind) String() string {
	switch k {
	case VertexState:
		return "State"
	case VertexHistoryShallow:
		return "ShallowHistory"
	case VertexHistoryDeep:
		return "DeepHistory"
	default:
		return "Unknown"
	}
}

// Vertex is the common identity shared by every node in a state graph:
// states and history pseudostates alike. It is immutable after
// construction.
type Vertex interface {
	ID() int
	Kind() VertexKind
}

// State is a leaf or composite state in a state machine.
// To create a top-level state, use [StateMachine.State].
// To create a sub-state of a composite state, use [State.State].
// State (and its containing [StateMachine]) is parameterized by E, the
// extended state type threaded through every guard, action, entry and
// exit function. E is usually a pointer to a struct holding the
// quantitative aspects of the object's state, as opposed to the
// qualitative aspects captured by which State is active.
// If no extended state is needed, use struct{}.
type State[E any] struct {
	id                  int
	name                string
	alias               string
	parent              *State[E]
	children            []*State[E]
	initial             *State[E] // initial child state, set iff composite
	depth               int       // number of parent hops to a top-level state
	validated           bool
	entry, exit         func(Event, E)
	entryName, exitName string
	init                func(E)
	initName            string
	transitions         []*transition[E]
	sm                  *StateMachine[E]
	shallowHistory      *History[E]
	deepHistory         *History[E]
}

func (s *State[E]) ID() int          { return s.id }
func (s *State[E]) Kind() VertexKind { return VertexState }

// IsLeaf reports whether s has no sub-states.
func (s *State[E]) IsLeaf() bool {
	return len(s.children) == 0
}

// IsComposite reports whether s has at least one sub-state. Equivalent
// to s.initial being set, per the data model's invariant I3.
func (s *State[E]) IsComposite() bool {
	return len(s.children) > 0
}

// Name returns the state's declared name.
func (s *State[E]) Name() string {
	if s == nil {
		return "<nil>"
	}
	return s.name
}

// String is a synonym for Name, so States print legibly in test failures.
func (s *State[E]) String() string {
	return s.Name()
}

// Parent returns the direct super-state, or nil for a top-level state.
func (s *State[E]) Parent() *State[E] {
	return s.parent
}

// IsDescendantOf reports whether s is other, or other is a strict
// ancestor of s.
func (s *State[E]) IsDescendantOf(other *State[E]) bool {
	for w := s; w != nil; w = w.parent {
		if w == other {
			return true
		}
	}
	return false
}

// AncestorWithId returns the strict ancestor of s with the given id, or
// nil if none matches.
func (s *State[E]) AncestorWithId(id int) *State[E] {
	for w := s.parent; w != nil; w = w.parent {
		if w.id == id {
			return w
		}
	}
	return nil
}

// namedAction and namedGuard let builders combine several user-supplied
// functions while preserving a human-readable, diagram-friendly label
// for each one.
type namedAction[E any] struct {
	name   string
	action func(Event, E)
}

type namedGuard[E any] struct {
	name  string
	guard func(Event, E) bool
}

func (na namedAction[E]) Name() string { return na.name }
func (ng namedGuard[E]) Name() string  { return ng.name }

type named interface{ Name() string }

func combineNames[N named](items []N) string {
	var names []string
	for _, item := range items {
		if item.Name() != "" {
			names = append(names, item.Name())
		}
	}
	return strings.Join(names, ";")
}

// combineActions returns a label and a function running all the given
// actions in declaration order. Kept as a single indirection-free call
// when there is only one action, since that is overwhelmingly the
// common case.
func combineActions[E any](actions []namedAction[E]) (name string, fn func(Event, E)) {
	if len(actions) == 1 {
		return actions[0].name, actions[0].action
	}
	return combineNames(actions), func(e Event, ext E) {
		for _, a := range actions {
			a.action(e, ext)
		}
	}
}

// combineGuards returns a label and a function that is the logical AND
// of all the given guards, short-circuiting on the first false.
func combineGuards[E any](guards []namedGuard[E]) (name string, fn func(Event, E) bool) {
	if len(guards) == 1 {
		return guards[0].name, guards[0].guard
	}
	return combineNames(guards), func(e Event, ext E) bool {
		for _, g := range guards {
			if !g.guard(e, ext) {
				return false
			}
		}
		return true
	}
}

// StateBuilder provides a fluent API for building a new [State].
type StateBuilder[E any] struct {
	parent  *State[E]
	name    string
	options []stateOption[E]
	entries []namedAction[E]
	exits   []namedAction[E]
	built   bool
}

type stateOption[E any] func(s *State[E])

// Entry registers f to run when the state being built is entered. May be
// called more than once; the actions run in the order they were added.
// name is used only for diagram labeling and may be empty.
func (sb *StateBuilder[E]) Entry(name string, f func(Event, E)) *StateBuilder[E] {
	sb.entries = append(sb.entries, namedAction[E]{name: name, action: f})
	if len(sb.entries) == 1 {
		sb.options = append(sb.options, func(s *State[E]) {
			s.entryName, s.entry = combineActions(sb.entries)
		})
	}
	return sb
}

// Exit registers f to run when the state being built is exited. May be
// called more than once; the actions run in the order they were added.
func (sb *StateBuilder[E]) Exit(name string, f func(Event, E)) *StateBuilder[E] {
	sb.exits = append(sb.exits, namedAction[E]{name: name, action: f})
	if len(sb.exits) == 1 {
		sb.options = append(sb.options, func(s *State[E]) {
			s.exitName, s.exit = combineActions(sb.exits)
		})
	}
	return sb
}

// Init registers f to run once, when the owning machine instance is
// initialized, before any entry function runs. Unlike Entry, Init never
// repeats for the same instance and carries no Event.
func (sb *StateBuilder[E]) Init(name string, f func(E)) *StateBuilder[E] {
	sb.options = append(sb.options, func(s *State[E]) {
		s.initName, s.init = name, f
	})
	return sb
}

// Initial marks the state being built as the initial sub-state of its
// parent, i.e. it creates the automatic initial-pseudostate transition
// from the parent into this state.
func (sb *StateBuilder[E]) Initial() *StateBuilder[E] {
	opt := func(s *State[E]) {
		p := s.parent
		if p.initial != nil && p.initial != s {
			panic(fmt.Sprintf("sub-states %s and %s can not both be marked initial", s.name, p.initial.name))
		}
		p.initial = s
	}
	sb.options = append(sb.options, opt)
	return sb
}

// Build finishes building and returns the new state.
func (sb *StateBuilder[E]) Build() *State[E] {
	sm := sb.parent.sm
	ss := State[E]{
		id:     sm.nextID(),
		parent: sb.parent,
		name:   sb.name,
		alias:  strings.ReplaceAll(sb.name, " ", "_"),
		depth:  sb.parent.depth + 1,
		sm:     sm,
	}
	for _, opt := range sb.options {
		opt(&ss)
	}
	sb.parent.children = append(sb.parent.children, &ss)
	sb.built = true
	sm.untrackStateBuilder(sb)
	return &ss
}

// State creates a builder for a new sub-state of s.
func (s *State[E]) State(name string) *StateBuilder[E] {
	sb := &StateBuilder[E]{parent: s, name: name}
	s.sm.trackStateBuilder(sb)
	return sb
}

// History lazily attaches (or returns the already-attached) history
// pseudostate of the given flavor to the composite state s. The default
// remembered target, until the instance has visited s at least once, is
// s.initial (see [History.DefaultTarget] to override it).
func (s *State[E]) History(flavor HistoryFlavor) *History[E] {
	switch flavor {
	case HistoryShallow:
		if s.shallowHistory == nil {
			s.shallowHistory = newHistory(s, flavor)
		}
		return s.shallowHistory
	case HistoryDeep:
		if s.deepHistory == nil {
			s.deepHistory = newHistory(s, flavor)
		}
		return s.deepHistory
	default:
		panic("hsm: unknown history flavor")
	}
}

func (s *State[E]) historyFor(flavor HistoryFlavor) *History[E] {
	switch flavor {
	case HistoryShallow:
		return s.shallowHistory
	case HistoryDeep:
		return s.deepHistory
	default:
		return nil
	}
}

// validate checks that, were s to be entered, a unique path exists
// through initial sub-states down to a leaf.
func (s *State[E]) validate() {
	for w := s; !w.IsLeaf() && !w.validated; w = w.initial {
		if w.initial == nil {
			panic("state " + w.name + " must have initial sub-state")
		}
		w.validated = true
	}
}

// transKind is the tag of a transition's UML kind.
type transKind int

const (
	transExternal transKind = iota
	transLocal
	transInternal
)

type transition[E any] struct {
	kind       transKind
	eventId    int
	target     *State[E]
	guard      func(Event, E) bool
	guardName  string
	action     func(Event, E)
	actionName string
	history    HistoryFlavor // zero value (HistoryNone) unless History() was called
}

func (t *transition[E]) String() string {
	var b strings.Builder
	if t.guard != nil {
		b.WriteByte('[')
		b.WriteString(t.guardName)
		b.WriteByte(']')
	}
	if t.action != nil {
		b.WriteString(" / ")
		b.WriteString(t.actionName)
	}
	return b.String()
}

// Transition creates a builder for a transition from s, triggered by the
// event with the given id, into target. Pass nil for target to terminate
// the state machine instance (route it into a synthetic sink state with
// no transitions of its own).
func (s *State[E]) Transition(eventId int, target *State[E]) *TransitionBuilder[E] {
	if target == nil {
		target = &s.sm.terminal
	}
	t := &transition[E]{target: target, eventId: eventId}
	tb := &TransitionBuilder[E]{src: s, t: t}
	s.sm.trackTransitionBuilder(tb)
	return tb
}

// AddTransition is shorthand for s.Transition(eventId, target).Build().
func (s *State[E]) AddTransition(eventId int, target *State[E]) {
	s.Transition(eventId, target).Build()
}

type transitionOption[E any] func(s *State[E], t *transition[E])

// TransitionBuilder provides a fluent API for building a transition.
// It allows specifying a guard, an action, transition kind
// (external/local/internal), and a history flavor for the target.
type TransitionBuilder[E any] struct {
	src     *State[E]
	t       *transition[E]
	options []transitionOption[E]
	guards  []namedGuard[E]
	actions []namedAction[E]
	built   bool
}

// Guard specifies the predicate that must return true for the
// transition to be selected. May be called more than once; all guards
// must pass (logical AND). name is used only for diagram labeling.
func (tb *TransitionBuilder[E]) Guard(name string, f func(Event, E) bool) *TransitionBuilder[E] {
	tb.guards = append(tb.guards, namedGuard[E]{name: name, guard: f})
	if len(tb.guards) == 1 {
		tb.options = append(tb.options, func(s *State[E], t *transition[E]) {
			t.guardName, t.guard = combineGuards(tb.guards)
		})
	}
	return tb
}

// Action specifies the transition's effect, invoked after all applicable
// exits and before any applicable entries. May be called more than once;
// actions run in declaration order.
func (tb *TransitionBuilder[E]) Action(name string, f func(Event, E)) *TransitionBuilder[E] {
	tb.actions = append(tb.actions, namedAction[E]{name: name, action: f})
	if len(tb.actions) == 1 {
		tb.options = append(tb.options, func(s *State[E], t *transition[E]) {
			t.actionName, t.action = combineActions(tb.actions)
		})
	}
	return tb
}

// Internal marks the transition as internal: it may only be declared as
// a self-transition (target == source) and invokes neither exit nor
// entry of the source, only the action.
func (tb *TransitionBuilder[E]) Internal() *TransitionBuilder[E] {
	if tb.src != tb.t.target {
		panic(fmt.Sprintf("transition %s -> %s can not be internal", tb.src.name, tb.t.target.name))
	}
	tb.options = append(tb.options, func(s *State[E], t *transition[E]) { t.kind = transInternal })
	return tb
}

// Local marks the transition as local: source must be composite and
// target a strict descendant of source (UML invariant T2). Local
// transitions do not exit and re-enter the source.
func (tb *TransitionBuilder[E]) Local() *TransitionBuilder[E] {
	opt := func(s *State[E], t *transition[E]) {
		if t.target == s || getParent(s, t.target) != s {
			panic(fmt.Sprintf("transition %s -> %s can not be local: target must be a strict descendant of a composite source", s.name, t.target.name))
		}
		t.kind = transLocal
	}
	tb.options = append(tb.options, opt)
	return tb
}

// History specifies that the transition resolves its declared target
// through the target state's history pseudostate of the given flavor,
// rather than entering the target directly. Until the target composite
// has been visited, the history's default (s.initial, or an explicit
// [History.DefaultTarget]) is used.
func (tb *TransitionBuilder[E]) History(flavor HistoryFlavor) *TransitionBuilder[E] {
	tb.options = append(tb.options, func(s *State[E], t *transition[E]) {
		t.history = flavor
	})
	return tb
}

// Build finishes building the transition and attaches it to its source
// state.
func (tb *TransitionBuilder[E]) Build() {
	sm := tb.src.sm
	if sm.LocalDefault && tb.t.kind == transExternal && tb.t.target != tb.src {
		// The state machine defaults to local transitions. This only
		// applies when the source contains the target (§4.3.3 requires a
		// local transition's target to be a strict descendant of source).
		if getParent(tb.src, tb.t.target) == tb.src {
			tb.t.kind = transLocal
		}
	}
	for _, opt := range tb.options {
		opt(tb.src, tb.t)
	}
	tb.src.transitions = append(tb.src.transitions, tb.t)
	tb.built = true
	sm.untrackTransitionBuilder(tb)
}

// getParent returns whichever of s1, s2 is the (direct or transitive)
// super-state of the other, or nil if neither contains the other.
func getParent[E any](s1, s2 *State[E]) *State[E] {
	if s2.IsDescendantOf(s1) {
		return s1
	}
	if s1.IsDescendantOf(s2) {
		return s2
	}
	return nil
}
