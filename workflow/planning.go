package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/planner"
)

// TypePlanning names the plan-and-execute strategy.
const TypePlanning = "planning"

// PlanningConfig controls the plan-and-execute strategy.
type PlanningConfig struct {
	// Planner selects the plan source: "llm", "hierarchical" or "simple".
	Planner string `json:"planner" yaml:"planner"`
	// Mode selects task scheduling: sequential, parallel or adaptive.
	Mode string `json:"mode" yaml:"mode"`
	// MaxParallel caps concurrent tasks in parallel and adaptive modes.
	MaxParallel int `json:"max_parallel" yaml:"max_parallel"`
	// MaxDepth bounds recursive decomposition of complex steps.
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
	// AutoRefine re-plans and retries failed tasks after a run.
	AutoRefine bool `json:"auto_refine" yaml:"auto_refine"`
	// MaxRefinements bounds the refinement attempts per execution.
	MaxRefinements int `json:"max_refinements" yaml:"max_refinements"`
}

// DefaultPlanningConfig returns the documented planning defaults.
func DefaultPlanningConfig() PlanningConfig {
	return PlanningConfig{
		Planner:        "llm",
		Mode:           string(graph.ModeSequential),
		MaxParallel:    graph.DefaultMaxParallel,
		MaxDepth:       3,
		AutoRefine:     true,
		MaxRefinements: 3,
	}
}

func (c PlanningConfig) withDefaults() PlanningConfig {
	def := DefaultPlanningConfig()
	if c.Planner == "" {
		c.Planner = def.Planner
	}
	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.MaxParallel <= 0 {
		c.MaxParallel = def.MaxParallel
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.MaxRefinements <= 0 {
		c.MaxRefinements = def.MaxRefinements
	}
	return c
}

// Planning decomposes a goal into a task graph, executes it, and optionally
// refines the plan while tasks keep failing. Complex steps are decomposed
// recursively up to MaxDepth; sub-plans keep stable keys so dependencies on
// a decomposed step move to its final sub-step.
type Planning struct {
	Base
	cfg      PlanningConfig
	planner  planner.Planner
	executor *graph.Executor
	oracle   oracle.Oracle

	gmu  sync.RWMutex
	plan *graph.TaskGraph
}

// NewPlanning builds a planning workflow from dependencies and config.
func NewPlanning(deps Deps, cfg PlanningConfig) *Planning {
	deps = deps.normalized()
	cfg = cfg.withDefaults()
	p := &Planning{
		Base:   newBase(TypePlanning, deps.Logger),
		cfg:    cfg,
		oracle: deps.Oracle,
	}
	p.planner = planner.New(cfg.Planner, deps.Oracle, deps.Logger)
	if llm, ok := p.planner.(*planner.LLM); ok && deps.Counter != nil {
		llm.WithTokenCounter(deps.Counter)
	}

	sink := deps.TaskSink
	p.executor = graph.NewExecutor(deps.Logger).
		WithOracle(deps.Oracle).
		WithMode(graph.ParseMode(cfg.Mode)).
		WithMaxParallel(cfg.MaxParallel).
		OnTaskDone(func(t *graph.Task) {
			if t.Status() != graph.StatusCompleted {
				return
			}
			p.bumpStep()
			if sink != nil {
				sink(p.id, t.Snapshot())
			}
		})
	return p
}

// WithPlanner replaces the plan source, for callers that bring their own.
func (p *Planning) WithPlanner(pl planner.Planner) *Planning {
	if pl != nil {
		p.planner = pl
	}
	return p
}

// PlanningFactory is the Factory for the planning strategy.
func PlanningFactory(deps Deps, cfg Config) (Workflow, error) {
	return NewPlanning(deps, cfg.Planning), nil
}

// Validate accepts any non-empty goal.
func (p *Planning) Validate(goal string) bool {
	return strings.TrimSpace(goal) != ""
}

// Graph returns the task graph of the current or last execution, nil before
// the first run.
func (p *Planning) Graph() *graph.TaskGraph {
	p.gmu.RLock()
	defer p.gmu.RUnlock()
	return p.plan
}

// Execute plans the goal, runs the resulting graph and refines while tasks
// fail, up to the configured attempts.
func (p *Planning) Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error) {
	res := p.newResult(goal)
	if !p.markRunning() {
		return p.conclude(res), nil
	}
	rctx, stop := p.runCtx(ctx)
	defer stop()

	specs, err := p.decompose(rctx, goal, vars, 0)
	if err != nil {
		if p.cancelledNow() {
			return p.conclude(res), nil
		}
		res.Error = fmt.Sprintf("planning: %v", err)
		if cause := ctx.Err(); cause != nil {
			return p.conclude(res), cause
		}
		p.logger.Error("planning failed", zap.String("workflow_id", p.id), zap.Error(err))
		return p.conclude(res), nil
	}

	g := planner.Materialize(specs, p.logger)
	if issues := g.ValidateDependencies(); len(issues) > 0 {
		p.logger.Warn("plan has dependency issues",
			zap.String("workflow_id", p.id),
			zap.Strings("issues", issues))
	}
	p.swapGraph(g)
	p.setSteps(g.Len())

	summary, execErr := p.executor.ExecutePlan(rctx, g, &graph.RunContext{Vars: vars})

	refinements := 0
	for p.cfg.AutoRefine && execErr == nil && summary.Failed > 0 && refinements < p.cfg.MaxRefinements {
		if gateErr := p.pauseGate(ctx); gateErr != nil {
			if errors.Is(gateErr, errCancelled) {
				break
			}
			p.planDetails(res, g, summary, refinements)
			return p.conclude(res), gateErr
		}
		refinements++
		p.logger.Info("refining plan",
			zap.String("workflow_id", p.id),
			zap.Int("attempt", refinements),
			zap.Int("failed", summary.Failed))

		revised, rerr := p.planner.Refine(rctx, specs, refineFeedback(summary))
		if rerr != nil {
			p.logger.Warn("plan refinement failed", zap.Error(rerr))
			revised = specs
		}
		if !reflect.DeepEqual(revised, specs) {
			next := planner.Materialize(revised, p.logger)
			carryCompleted(g, next)
			specs, g = revised, next
			p.swapGraph(g)
			p.setSteps(g.Len())
			p.setStep(g.Stats().ByStatus[graph.StatusCompleted])
		} else {
			for _, t := range g.Tasks() {
				t.ResetForRetry()
			}
		}
		summary, execErr = p.executor.ExecutePlan(rctx, g, &graph.RunContext{Vars: vars})
	}

	p.planDetails(res, g, summary, refinements)
	if execErr != nil {
		if p.cancelledNow() {
			return p.conclude(res), nil
		}
		res.Error = execErr.Error()
		return p.conclude(res), execErr
	}
	res.Success = summary.Failed == 0
	return p.conclude(res), nil
}

// decompose plans the goal and recursively expands complex steps into
// namespaced sub-plans until MaxDepth, where a single simple catch-all step
// is emitted instead.
func (p *Planning) decompose(ctx context.Context, goal string, vars map[string]any, depth int) ([]planner.TaskSpec, error) {
	if depth >= p.cfg.MaxDepth {
		return []planner.TaskSpec{{
			Key:         planner.StepKey(1),
			Name:        "Execute goal",
			Description: goal,
			Complexity:  planner.ComplexitySimple,
			Priority:    graph.PriorityMedium,
		}}, nil
	}

	specs, err := p.planner.Plan(ctx, goal, vars)
	if err != nil {
		return nil, err
	}

	out := make([]planner.TaskSpec, 0, len(specs))
	terminal := make(map[string]string)
	for _, spec := range specs {
		if spec.Complexity != planner.ComplexityComplex {
			out = append(out, spec)
			continue
		}
		subs, err := p.decompose(ctx, spec.Description, vars, depth+1)
		if err != nil {
			return nil, err
		}
		if len(subs) == 0 {
			out = append(out, spec)
			continue
		}
		ns := namespaceSubPlan(spec, subs)
		terminal[spec.Key] = ns[len(ns)-1].Key
		out = append(out, ns...)
	}

	// Steps that depended on a decomposed step now wait on its final sub-step.
	for i := range out {
		for j, dep := range out[i].DependsOn {
			if t, ok := terminal[dep]; ok {
				out[i].DependsOn[j] = t
			}
		}
	}
	return out, nil
}

// namespaceSubPlan rewrites sub-plan keys under the parent key and re-points
// internal dependencies. Sub-steps without internal dependencies inherit the
// parent's, so the sub-plan slots into the parent's position in the order.
func namespaceSubPlan(parent planner.TaskSpec, subs []planner.TaskSpec) []planner.TaskSpec {
	rename := make(map[string]string, len(subs))
	out := make([]planner.TaskSpec, len(subs))
	for i, sub := range subs {
		key := parent.Key + "." + strconv.Itoa(i+1)
		rename[sub.Key] = key
		sub.Key = key
		out[i] = sub
	}
	for i := range out {
		var remapped []string
		for _, dep := range out[i].DependsOn {
			if nk, ok := rename[dep]; ok {
				remapped = append(remapped, nk)
			}
		}
		if len(remapped) == 0 && len(parent.DependsOn) > 0 {
			remapped = append([]string(nil), parent.DependsOn...)
		}
		out[i].DependsOn = remapped
	}
	return out
}

// carryCompleted copies completed results from the previous graph into the
// refined one, matched by stable plan key, so refinement never repeats work.
func carryCompleted(prev, next *graph.TaskGraph) {
	done := make(map[string]any)
	for _, t := range prev.Tasks() {
		if t.Status() != graph.StatusCompleted {
			continue
		}
		if key, ok := t.Metadata["plan_key"].(string); ok {
			done[key] = t.Result()
		}
	}
	for _, t := range next.Tasks() {
		key, ok := t.Metadata["plan_key"].(string)
		if !ok {
			continue
		}
		if out, found := done[key]; found {
			t.MarkCompleted(out)
		}
	}
}

func refineFeedback(s *graph.Summary) string {
	var b strings.Builder
	b.WriteString("The following tasks failed:\n")
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "- %s: %s\n", e.TaskName, e.Err)
	}
	return b.String()
}

func (p *Planning) swapGraph(g *graph.TaskGraph) {
	p.gmu.Lock()
	p.plan = g
	p.gmu.Unlock()
}

func (p *Planning) planDetails(res *Result, g *graph.TaskGraph, s *graph.Summary, refinements int) {
	errs := make([]string, 0, len(s.Errors))
	for _, e := range s.Errors {
		errs = append(errs, fmt.Sprintf("%s: %s", e.TaskName, e.Err))
	}
	res.Details["total_tasks"] = s.Total
	res.Details["completed_tasks"] = s.Completed
	res.Details["failed_tasks"] = s.Failed
	res.Details["errors"] = errs
	res.Details["progress"] = g.Progress()
	res.Details["stats"] = g.Stats()
	res.Details["refinements"] = refinements
	res.Details["tasks"] = g.Snapshot()
}
