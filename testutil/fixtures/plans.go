// Package fixtures provides canned test data for the planning and workflow
// packages: plan text in the numbered format planners read, ready-made task
// specs and graphs, and workflow configs.
package fixtures

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/planner"
	"github.com/taskflowhq/taskflow/workflow"
)

// PlanText renders step names into the numbered plan format, one simple
// step per line:
//
//	1. collect
//	2. assemble
func PlanText(steps ...string) string {
	var b strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String()
}

// ChainPlanText renders step names into a numbered plan where every step
// depends on the one before it.
func ChainPlanText(steps ...string) string {
	var b strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		if i > 0 {
			fmt.Fprintf(&b, "   - Dependencies: %d\n", i)
		}
	}
	return b.String()
}

// AnnotatedPlanText returns a fixed three-step plan exercising every
// annotation the plan format knows: descriptions, complexity, priority and
// dependencies. Step 3 depends on steps 1 and 2.
func AnnotatedPlanText() string {
	return `1. Gather requirements
   Talk to the stakeholders and write them down.
   - Complexity: simple
   - Priority: high

2. Build the service
   Implement the agreed endpoints.
   - Complexity: medium
   - Priority: medium
   - Dependencies: 1

3. Verify the result
   Run the acceptance checks.
   - Complexity: simple
   - Priority: high
   - Dependencies: 1, 2
`
}

// ChainSpecs builds task specs forming a linear dependency chain, one spec
// per name.
func ChainSpecs(names ...string) []planner.TaskSpec {
	specs := make([]planner.TaskSpec, len(names))
	for i, name := range names {
		specs[i] = planner.TaskSpec{
			Key:        planner.StepKey(i + 1),
			Name:       name,
			Complexity: planner.ComplexityMedium,
			Priority:   graph.PriorityMedium,
		}
		if i > 0 {
			specs[i].DependsOn = []string{planner.StepKey(i)}
		}
	}
	return specs
}

// LinearGraph builds a task graph where each named task depends on the
// previous one.
func LinearGraph(names ...string) *graph.TaskGraph {
	return planner.Materialize(ChainSpecs(names...), zap.NewNop())
}

// DiamondGraph builds the classic four-task diamond: one root, two parallel
// middle tasks, one join depending on both.
func DiamondGraph() *graph.TaskGraph {
	specs := []planner.TaskSpec{
		{Key: planner.StepKey(1), Name: "root", Complexity: planner.ComplexitySimple, Priority: graph.PriorityHigh},
		{Key: planner.StepKey(2), Name: "left", DependsOn: []string{planner.StepKey(1)}, Complexity: planner.ComplexityMedium, Priority: graph.PriorityMedium},
		{Key: planner.StepKey(3), Name: "right", DependsOn: []string{planner.StepKey(1)}, Complexity: planner.ComplexityMedium, Priority: graph.PriorityMedium},
		{Key: planner.StepKey(4), Name: "join", DependsOn: []string{planner.StepKey(2), planner.StepKey(3)}, Complexity: planner.ComplexitySimple, Priority: graph.PriorityHigh},
	}
	return planner.Materialize(specs, zap.NewNop())
}

// StepsConfig returns a workflow config whose sequential strategy runs one
// step per name.
func StepsConfig(names ...string) workflow.Config {
	cfg := workflow.DefaultConfig()
	steps := make([]workflow.Step, len(names))
	for i, name := range names {
		steps[i] = workflow.Step{Name: name, Description: "carry out " + name}
	}
	cfg.Sequential.Steps = steps
	return cfg
}
