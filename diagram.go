package hsm

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type edge[E any] struct {
	src, dst *State[E]
}

// DiagramBuilder allows minor customizations of PlantUML diagram layout
// before rendering it. Create one with [StateMachine.DiagramBuilder].
type DiagramBuilder[E any] struct {
	sm           *StateMachine[E]
	evNameMapper func(int) string
	defaultArrow string
	arrows       *orderedmap.OrderedMap[edge[E], string]
}

// DefaultArrow changes the arrow style used for transitions not
// otherwise overridden with Arrow. The default is "-->".
func (db *DiagramBuilder[E]) DefaultArrow(arrow string) *DiagramBuilder[E] {
	db.defaultArrow = arrow
	return db
}

// Arrow overrides the arrow style used for all transitions from src to
// dst. See https://crashedmind.github.io/PlantUMLHitchhikersGuide/layout/layout.html
// for available styles.
func (db *DiagramBuilder[E]) Arrow(src, dst *State[E], arrow string) *DiagramBuilder[E] {
	db.arrows.Set(edge[E]{src, dst}, arrow)
	return db
}

type edgeH[E any] struct {
	src, dst *State[E]
	hist     string
}

// Build renders the PlantUML diagram as a string. States are dumped
// depth-first in the order they were declared under their parent. Each
// state's outgoing edges, and the labels merged onto each edge, follow
// the order in which that state's transitions were declared; local edges
// are written right after their source state, all other edges after the
// last state. The per-state edge aggregation is backed by an
// [orderedmap.OrderedMap] rather than a plain map, so the same finalized
// machine always produces byte-identical output, which a plain Go map's
// randomized iteration order would not guarantee.
func (db *DiagramBuilder[E]) Build() string {
	sm := db.sm
	evNameMapper := db.evNameMapper
	if !sm.top.validated {
		panic("state machine not finalized")
	}

	var (
		bld, bldTrans strings.Builder
		dump          func(indent int, s *State[E])
	)

	dump = func(indent int, s *State[E]) {
		prefix := strings.Repeat("   ", indent)

		if s.name == s.alias {
			fmt.Fprintf(&bld, "%sstate %s", prefix, s.alias)
		} else {
			fmt.Fprintf(&bld, "%sstate \"%s\" as %s", prefix, s.name, s.alias)
		}
		if !s.IsLeaf() {
			bld.WriteString(" {\n")
			for _, child := range s.children {
				if child != &sm.terminal {
					dump(indent+1, child)
				}
			}
			bld.WriteString(prefix)
			bld.WriteString("}")
		}
		bld.WriteString("\n")
		if s.entry != nil {
			fmt.Fprintf(&bld, "%s%s : entry / %s\n", prefix, s.alias, s.entryName)
		}
		if s.exit != nil {
			fmt.Fprintf(&bld, "%s%s : exit / %s\n", prefix, s.alias, s.exitName)
		}

		if s.parent.initial == s {
			fmt.Fprintf(&bld, "%s[*] --> %s\n", prefix, s.alias)
		}

		local := orderedmap.New[edgeH[E], []string]()
		normal := orderedmap.New[edgeH[E], []string]()

		for _, t := range s.transitions {
			var hist string
			switch t.history {
			case HistoryShallow:
				hist = "[H]"
			case HistoryDeep:
				hist = "[H*]"
			}
			if t.kind == transInternal {
				fmt.Fprintf(&bld, "%s%s : %s%s\n", prefix, s.alias, evNameMapper(t.eventId), t)
				continue
			}
			m := normal
			if t.kind == transLocal {
				m = local
			}
			key := edgeH[E]{src: s, dst: t.target, hist: hist}
			label := evNameMapper(t.eventId) + t.String()
			if labels, ok := m.Get(key); ok {
				m.Set(key, append(labels, label))
			} else {
				m.Set(key, []string{label})
			}
		}

		arrow := func(src, dst *State[E]) string {
			if a, ok := db.arrows.Get(edge[E]{src, dst}); ok {
				return a
			}
			return db.defaultArrow
		}

		for pair := local.Oldest(); pair != nil; pair = pair.Next() {
			e := pair.Key
			fmt.Fprintf(&bld, "%s%s %s %s%s : %s\n", prefix, e.src.alias, arrow(e.src, e.dst), e.dst.alias, e.hist, strings.Join(pair.Value, "\\n"))
		}
		for pair := normal.Oldest(); pair != nil; pair = pair.Next() {
			e := pair.Key
			fmt.Fprintf(&bldTrans, "%s %s %s%s : %s\n", e.src.alias, arrow(e.src, e.dst), e.dst.alias, e.hist, strings.Join(pair.Value, "\\n"))
		}
	}

	bld.WriteString("@startuml\n\n")
	for _, s := range sm.top.children {
		if s != &sm.terminal {
			dump(0, s)
		}
	}
	bld.WriteString(bldTrans.String())
	bld.WriteString("\n@enduml\n")
	return bld.String()
}

// DiagramBuilder creates a builder for customizing a PlantUML diagram
// before rendering it. evNameMapper maps event ids to display names.
func (sm *StateMachine[E]) DiagramBuilder(evNameMapper func(int) string) *DiagramBuilder[E] {
	return &DiagramBuilder[E]{
		sm:           sm,
		evNameMapper: evNameMapper,
		defaultArrow: "-->",
		arrows:       orderedmap.New[edge[E], string](),
	}
}

// DiagramPUML renders a PlantUML diagram of a finalized state machine.
// Shorthand for sm.DiagramBuilder(evNameMapper).Build().
func (sm *StateMachine[E]) DiagramPUML(evNameMapper func(int) string) string {
	return sm.DiagramBuilder(evNameMapper).Build()
}
