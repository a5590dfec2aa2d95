package planner

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
)

// Hierarchical emits a fixed three-phase skeleton: analyze the goal, execute
// it, verify the outcome.
type Hierarchical struct {
	logger *zap.Logger
}

// NewHierarchical creates a hierarchical planner.
func NewHierarchical(logger *zap.Logger) *Hierarchical {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hierarchical{logger: logger.With(zap.String("component", "planner_hierarchical"))}
}

func (h *Hierarchical) Name() string { return "hierarchical" }

// Plan returns the plan/execute/verify phases chained in order.
func (h *Hierarchical) Plan(ctx context.Context, goal string, vars map[string]any) ([]TaskSpec, error) {
	return []TaskSpec{
		{
			Key:         StepKey(1),
			Name:        "Planning and Analysis",
			Description: "Analyze requirements and plan approach for: " + goal,
			Complexity:  ComplexityMedium,
			Priority:    graph.PriorityHigh,
		},
		{
			Key:         StepKey(2),
			Name:        "Execution",
			Description: "Execute the main task: " + goal,
			DependsOn:   []string{StepKey(1)},
			Complexity:  ComplexityComplex,
			Priority:    graph.PriorityHigh,
		},
		{
			Key:         StepKey(3),
			Name:        "Verification",
			Description: "Verify and validate results",
			DependsOn:   []string{StepKey(2)},
			Complexity:  ComplexitySimple,
			Priority:    graph.PriorityMedium,
		},
	}, nil
}

// Refine appends one corrective task that depends on every existing step.
func (h *Hierarchical) Refine(ctx context.Context, plan []TaskSpec, feedback string) ([]TaskSpec, error) {
	refined := make([]TaskSpec, len(plan), len(plan)+1)
	copy(refined, plan)

	deps := make([]string, 0, len(plan))
	for _, spec := range plan {
		deps = append(deps, spec.Key)
	}
	refined = append(refined, TaskSpec{
		Key:         nextStepKey(plan),
		Name:        "Apply Refinements",
		Description: "Address feedback: " + feedback,
		DependsOn:   deps,
		Complexity:  ComplexityMedium,
		Priority:    graph.PriorityHigh,
	})
	return refined, nil
}

// nextStepKey picks a step key one past the highest numbered key in the
// plan, so repeated refinements never collide.
func nextStepKey(plan []TaskSpec) string {
	next := len(plan) + 1
	for _, spec := range plan {
		if n, err := strconv.Atoi(strings.TrimPrefix(spec.Key, "step-")); err == nil && n+1 > next {
			next = n + 1
		}
	}
	return StepKey(next)
}
