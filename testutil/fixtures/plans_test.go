package fixtures

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/planner"
)

func TestPlanTextParses(t *testing.T) {
	p := planner.ParsePlan(PlanText("collect", "assemble", "verify"))
	require.True(t, p.Recognized())
	require.Len(t, p.Specs, 3)
	assert.Equal(t, "collect", p.Specs[0].Name)
	assert.Equal(t, "verify", p.Specs[2].Name)
	assert.Empty(t, p.Specs[0].DependsOn)
}

func TestChainPlanTextParsesDependencies(t *testing.T) {
	p := planner.ParsePlan(ChainPlanText("one", "two", "three"))
	require.Len(t, p.Specs, 3)
	assert.Empty(t, p.Specs[0].DependsOn)
	assert.Equal(t, []string{planner.StepKey(1)}, p.Specs[1].DependsOn)
	assert.Equal(t, []string{planner.StepKey(2)}, p.Specs[2].DependsOn)
}

func TestAnnotatedPlanTextParses(t *testing.T) {
	p := planner.ParsePlan(AnnotatedPlanText())
	require.Len(t, p.Specs, 3)

	assert.Equal(t, "Gather requirements", p.Specs[0].Name)
	assert.Equal(t, planner.ComplexitySimple, p.Specs[0].Complexity)
	assert.Equal(t, graph.PriorityHigh, p.Specs[0].Priority)
	assert.NotEmpty(t, p.Specs[0].Description)

	assert.Equal(t, planner.ComplexityMedium, p.Specs[1].Complexity)
	assert.Equal(t, []string{planner.StepKey(1)}, p.Specs[1].DependsOn)

	assert.ElementsMatch(t,
		[]string{planner.StepKey(1), planner.StepKey(2)},
		p.Specs[2].DependsOn)
}

func TestLinearGraph(t *testing.T) {
	g := LinearGraph("a", "b", "c")
	assert.Equal(t, 3, g.Len())
	assert.Empty(t, g.ValidateDependencies())

	layers := g.ExecutionOrder()
	require.Len(t, layers, 3)
	for _, layer := range layers {
		assert.Len(t, layer, 1)
	}
}

func TestDiamondGraph(t *testing.T) {
	g := DiamondGraph()
	assert.Equal(t, 4, g.Len())
	assert.Empty(t, g.ValidateDependencies())

	layers := g.ExecutionOrder()
	require.Len(t, layers, 3)
	assert.Len(t, layers[0], 1)
	assert.Len(t, layers[1], 2)
	assert.Len(t, layers[2], 1)
	assert.Equal(t, "root", layers[0][0].Name)
	assert.Equal(t, "join", layers[2][0].Name)
}

func TestStepsConfig(t *testing.T) {
	cfg := StepsConfig("fetch", "transform")
	require.Len(t, cfg.Sequential.Steps, 2)
	assert.Equal(t, "fetch", cfg.Sequential.Steps[0].Name)
	assert.Equal(t, "carry out transform", cfg.Sequential.Steps[1].Description)
}
