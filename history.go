package hsm

// HistoryFlavor distinguishes shallow history (remembers the direct
// child of the owning composite that was last active) from deep history
// (remembers the deepest leaf that was last active).
type HistoryFlavor int

const (
	// HistoryNone is the zero value of HistoryFlavor, meaning "not a
	// history transition" when found on a transition descriptor.
	HistoryNone HistoryFlavor = iota
	HistoryShallow
	HistoryDeep
)

func (f HistoryFlavor) String() string {
	switch f {
	case HistoryShallow:
		return "Shallow"
	case HistoryDeep:
		return "Deep"
	default:
		return "None"
	}
}

// History is a pseudostate owned by a composite state, remembering a
// previously-active descendant so a transition into it can resume where
// the composite last left off. Shallow and deep history share this
// representation; only their initialization and post-commit update
// rules differ (see [State.History]).
type History[E any] struct {
	id            int
	flavor        HistoryFlavor
	owner         *State[E]
	defaultTarget *State[E]
	remembered    *State[E]
}

func newHistory[E any](owner *State[E], flavor HistoryFlavor) *History[E] {
	return &History[E]{
		id:     owner.sm.nextID(),
		flavor: flavor,
		owner:  owner,
	}
}

func (h *History[E]) ID() int { return h.id }

func (h *History[E]) Kind() VertexKind {
	if h.flavor == HistoryDeep {
		return VertexHistoryDeep
	}
	return VertexHistoryShallow
}

// Owner returns the composite state this history pseudostate belongs to.
func (h *History[E]) Owner() *State[E] { return h.owner }

// DefaultTarget overrides the state entered the first time the owning
// composite is reached via this history, before any prior activation
// has been recorded. target must be a descendant of the owner; this is
// checked per-instance, the first time [StateMachineInstance.Initialize]
// computes this history's initial remembered state.
func (h *History[E]) DefaultTarget(target *State[E]) *History[E] {
	h.defaultTarget = target
	return h
}

// init computes the history's initial remembered state, per spec §4.2:
// let D = defaultTarget if set, else owner.initial; for shallow history
// remembered is D; for deep history, remembered is the leaf reached by
// following initial links from D.
func (h *History[E]) init() {
	d := h.defaultTarget
	if d == nil {
		d = h.owner.initial
	}
	if d == nil || !d.IsDescendantOf(h.owner) {
		panic("hsm: history default target for " + h.owner.name + " must be a descendant of it")
	}
	if h.flavor == HistoryShallow {
		h.remembered = d
		return
	}
	leaf := d
	for leaf.initial != nil {
		leaf = leaf.initial
	}
	h.remembered = leaf
}

// updateHistories implements spec §4.2's "Update policy": after leaf L
// becomes active, for every composite ancestor A of L, A's shallow
// history (if any) remembers the child of A on the path to L, and A's
// deep history (if any) remembers L itself.
func updateHistories[E any](leaf *State[E]) {
	for child, parent := leaf, leaf.parent; parent != nil; child, parent = parent, parent.parent {
		if parent.shallowHistory != nil {
			parent.shallowHistory.remembered = child
		}
		if parent.deepHistory != nil {
			parent.deepHistory.remembered = leaf
		}
	}
}

// resolve returns the effective target of a transition whose target
// vertex is this history pseudostate: its remembered descendant.
func (h *History[E]) resolve() *State[E] {
	return h.remembered
}
