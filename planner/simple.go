package planner

import (
	"context"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
)

// Simple is the rule-based planner: the whole goal becomes a single task.
type Simple struct {
	logger *zap.Logger
}

// NewSimple creates a simple planner.
func NewSimple(logger *zap.Logger) *Simple {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simple{logger: logger.With(zap.String("component", "planner_simple"))}
}

func (s *Simple) Name() string { return "simple" }

// Plan wraps the goal verbatim in one medium task.
func (s *Simple) Plan(ctx context.Context, goal string, vars map[string]any) ([]TaskSpec, error) {
	return []TaskSpec{{
		Key:         StepKey(1),
		Name:        "Complete goal",
		Description: goal,
		Complexity:  ComplexityMedium,
		Priority:    graph.PriorityMedium,
	}}, nil
}

// Refine returns the plan unchanged.
func (s *Simple) Refine(ctx context.Context, plan []TaskSpec, feedback string) ([]TaskSpec, error) {
	return plan, nil
}
