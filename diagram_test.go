package hsm_test

import (
	"strings"
	"testing"

	"github.com/hsmcore/hsm"
	"github.com/stretchr/testify/assert"
)

// TestDiagramDeterministic grounds SPEC_FULL.md §3's orderedmap.OrderedMap
// rewrite of the PlantUML renderer: rendering the same finalized machine
// twice must produce byte-identical output, since a plain Go map's
// randomized iteration order would otherwise reshuffle transition labels
// and edges between runs.
func TestDiagramDeterministic(t *testing.T) {
	sm := hsm.StateMachine[struct{}]{}
	a := sm.State("A").Initial().Build()
	b := sm.State("B").Build()

	a.AddTransition(evA, b)
	a.AddTransition(evB, b)
	a.AddTransition(evC, b)
	sm.Finalize()

	evNames := []string{"A", "B", "C"}
	mapper := func(i int) string { return evNames[i-1] }

	first := sm.DiagramPUML(mapper)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, sm.DiagramPUML(mapper))
	}
	assert.True(t, strings.Contains(first, "@startuml"))
	assert.True(t, strings.Contains(first, "@enduml"))
}

// TestDiagramArrowOverride grounds DiagramBuilder.Arrow, the component
// whose per-edge overrides are stored in an orderedmap.OrderedMap keyed
// by (src, dst) rather than a plain map.
func TestDiagramArrowOverride(t *testing.T) {
	sm := hsm.StateMachine[struct{}]{}
	a := sm.State("A").Initial().Build()
	b := sm.State("B").Build()
	a.AddTransition(evA, b)
	sm.Finalize()

	out := sm.DiagramBuilder(func(i int) string { return "A" }).
		Arrow(a, b, "-[#red]->").
		Build()
	assert.True(t, strings.Contains(out, "-[#red]->"))
}
