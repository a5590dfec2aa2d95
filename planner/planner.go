// Package planner turns a goal into an ordered set of task blueprints.
// Planners emit TaskSpecs with stable step keys; Materialize resolves those
// keys into a runnable task graph.
package planner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/oracle"
)

// Complexity estimates how much work a step represents. Complex steps are
// candidates for recursive decomposition.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// ParseComplexity normalizes a free-form complexity string, defaulting to
// medium.
func ParseComplexity(s string) Complexity {
	switch Complexity(s) {
	case ComplexitySimple, ComplexityMedium, ComplexityComplex:
		return Complexity(s)
	default:
		return ComplexityMedium
	}
}

// TaskSpec is one step of a plan. Key identifies the step within its plan;
// DependsOn references other steps by key, so specs stay valid when the plan
// is filtered or spliced before materialization.
type TaskSpec struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Complexity  Complexity     `json:"complexity"`
	Priority    graph.Priority `json:"priority"`
}

// StepKey builds the canonical key for the n-th step of a plan, 1-based.
func StepKey(n int) string {
	return fmt.Sprintf("step-%d", n)
}

// Planner produces and refines plans.
type Planner interface {
	Name() string
	// Plan decomposes a goal into task specs. Vars carry caller context that
	// oracle-backed planners fold into their prompts.
	Plan(ctx context.Context, goal string, vars map[string]any) ([]TaskSpec, error)
	// Refine revises an existing plan in light of feedback.
	Refine(ctx context.Context, plan []TaskSpec, feedback string) ([]TaskSpec, error)
}

// New builds a planner by kind: "llm", "hierarchical", or anything else for
// the simple planner. The oracle is only used by the llm kind.
func New(kind string, o oracle.Oracle, logger *zap.Logger) Planner {
	switch kind {
	case "llm":
		return NewLLM(o, logger)
	case "hierarchical":
		return NewHierarchical(logger)
	default:
		return NewSimple(logger)
	}
}

// Materialize builds a TaskGraph from a plan. Every spec becomes a task with
// a fresh id; dependency keys resolve to task ids afterwards, so forward
// references within the plan are allowed. References to keys absent from the
// plan are dropped with a log line rather than failing the build.
func Materialize(specs []TaskSpec, logger *zap.Logger) *graph.TaskGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := graph.NewTaskGraph(logger)
	idByKey := make(map[string]string, len(specs))

	for i, spec := range specs {
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("Task %d", i+1)
		}
		t := graph.NewTask(name, spec.Description).WithPriority(spec.Priority)
		t.Metadata["plan_key"] = spec.Key
		t.Metadata["complexity"] = string(spec.Complexity)
		g.AddTask(t)
		idByKey[spec.Key] = t.ID
	}

	for _, spec := range specs {
		taskID := idByKey[spec.Key]
		for _, depKey := range spec.DependsOn {
			depID, ok := idByKey[depKey]
			if !ok {
				logger.Debug("dropping dependency on unknown plan step",
					zap.String("step", spec.Key),
					zap.String("depends_on", depKey))
				continue
			}
			g.AddDependency(taskID, depID)
		}
	}
	return g
}
