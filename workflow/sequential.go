package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
)

// TypeSequential names the fixed-step strategy.
const TypeSequential = "sequential"

// Step is one unit of a sequential workflow.
type Step struct {
	// ID identifies the step; assigned when added without one.
	ID string `json:"id"`
	// Name labels the step in results and logs.
	Name string `json:"name"`
	// Description is the instruction sent to the oracle.
	Description string `json:"description"`
	// Action is a short alternative instruction used when Description is empty.
	Action string `json:"action,omitempty"`
	// StopOnFailure ends the run when this particular step fails, regardless
	// of the workflow-wide policy.
	StopOnFailure bool `json:"stop_on_failure,omitempty"`
	// Oracle overrides the workflow oracle for this step.
	Oracle oracle.Oracle `json:"-"`
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SequentialConfig controls the fixed-step strategy.
type SequentialConfig struct {
	// Steps seed the workflow; more can be added with AddStep.
	Steps []Step `json:"steps" yaml:"steps"`
	// StopOnFirstFailure ends the run at the first failed step.
	StopOnFirstFailure bool `json:"stop_on_first_failure" yaml:"stop_on_first_failure"`
	// ContinueOnError keeps running past failed steps when the stop policies
	// above do not apply.
	ContinueOnError bool `json:"continue_on_error" yaml:"continue_on_error"`
}

// DefaultSequentialConfig returns the documented sequential defaults.
func DefaultSequentialConfig() SequentialConfig {
	return SequentialConfig{StopOnFirstFailure: true}
}

// Sequential runs a fixed list of steps in order. Failed steps end the run
// unless the workflow is configured to continue.
type Sequential struct {
	Base
	cfg     SequentialConfig
	oracle  oracle.Oracle
	prompts *prompt.Registry

	smu   sync.RWMutex
	steps []Step
}

// NewSequential builds a sequential workflow from dependencies and config.
func NewSequential(deps Deps, cfg SequentialConfig) *Sequential {
	deps = deps.normalized()
	s := &Sequential{
		Base:    newBase(TypeSequential, deps.Logger),
		cfg:     cfg,
		oracle:  deps.Oracle,
		prompts: deps.Prompts,
	}
	for _, step := range cfg.Steps {
		s.AddStep(step)
	}
	return s
}

// SequentialFactory is the Factory for the sequential strategy.
func SequentialFactory(deps Deps, cfg Config) (Workflow, error) {
	return NewSequential(deps, cfg.Sequential), nil
}

// AddStep appends a step, assigning an id when missing.
func (s *Sequential) AddStep(step Step) string {
	if step.ID == "" {
		step.ID = uuid.NewString()
	}
	s.smu.Lock()
	s.steps = append(s.steps, step)
	s.smu.Unlock()
	return step.ID
}

// RemoveStep deletes the step with the given id and reports whether it
// existed.
func (s *Sequential) RemoveStep(id string) bool {
	s.smu.Lock()
	defer s.smu.Unlock()
	for i, step := range s.steps {
		if step.ID == id {
			s.steps = append(s.steps[:i], s.steps[i+1:]...)
			return true
		}
	}
	return false
}

// Steps returns a copy of the current step list.
func (s *Sequential) Steps() []Step {
	s.smu.RLock()
	defer s.smu.RUnlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Validate requires at least one step; the goal itself is not inspected.
func (s *Sequential) Validate(string) bool {
	s.smu.RLock()
	defer s.smu.RUnlock()
	return len(s.steps) > 0
}

// Execute runs the steps in order.
func (s *Sequential) Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error) {
	res := s.newResult(goal)
	if !s.markRunning() {
		return s.conclude(res), nil
	}
	rctx, stop := s.runCtx(ctx)
	defer stop()

	steps := s.Steps()
	s.setSteps(len(steps))

	results := make([]StepResult, 0, len(steps))
	var failed []string
	for i, step := range steps {
		if gateErr := s.pauseGate(ctx); gateErr != nil {
			if errors.Is(gateErr, errCancelled) {
				break
			}
			s.stepDetails(res, len(steps), results, failed)
			return s.conclude(res), gateErr
		}

		sr, err := s.runStep(rctx, step, vars)
		if err != nil {
			if s.cancelledNow() {
				break
			}
			s.stepDetails(res, len(steps), results, failed)
			return s.conclude(res), err
		}
		results = append(results, sr)
		s.setStep(i + 1)

		if !sr.Success {
			failed = append(failed, sr.Step)
			if step.StopOnFailure || s.cfg.StopOnFirstFailure || !s.cfg.ContinueOnError {
				s.logger.Warn("stopping after failed step",
					zap.String("workflow_id", s.id),
					zap.String("step", sr.Step))
				break
			}
		}
	}

	s.stepDetails(res, len(steps), results, failed)
	if out := lastOutput(results); out != "" {
		res.Output = out
	}
	res.Success = len(failed) == 0
	return s.conclude(res), nil
}

// runStep executes one step through its oracle. The returned error is
// non-nil only when the context ended mid-call.
func (s *Sequential) runStep(ctx context.Context, step Step, vars map[string]any) (StepResult, error) {
	o := step.Oracle
	if o == nil {
		o = s.oracle
	}
	if o == nil {
		return StepResult{Step: step.Name, Success: true, Output: fmt.Sprintf("Executed step: %s", step.Name)}, nil
	}

	resp, err := o.Complete(ctx, oracle.Request{Prompt: s.stepPrompt(step, vars), Vars: vars})
	if err != nil {
		if ctx.Err() != nil {
			return StepResult{}, ctx.Err()
		}
		s.logger.Warn("step failed",
			zap.String("workflow_id", s.id),
			zap.String("step", step.Name),
			zap.Error(err))
		return StepResult{Step: step.Name, Success: false, Error: err.Error()}, nil
	}
	return StepResult{Step: step.Name, Success: true, Output: resp.Content}, nil
}

func (s *Sequential) stepPrompt(step Step, vars map[string]any) string {
	desc := step.Description
	if desc == "" {
		desc = step.Action
	}
	if desc == "" {
		desc = step.Name
	}
	if tmpl, ok := s.prompts.Get(prompt.SequentialTemplate); ok {
		return tmpl.Format(map[string]any{
			"step_name":   step.Name,
			"description": desc,
			"context":     contextJSON(vars),
		})
	}
	return desc
}

func (s *Sequential) stepDetails(res *Result, total int, results []StepResult, failed []string) {
	errs := make([]string, 0, len(failed))
	for _, sr := range results {
		if !sr.Success {
			errs = append(errs, fmt.Sprintf("%s: %s", sr.Step, sr.Error))
		}
	}
	var progress float64
	if total > 0 {
		progress = float64(len(results)) / float64(total) * 100
	}
	res.Details["total_steps"] = total
	res.Details["completed_steps"] = len(results)
	res.Details["failed_steps"] = failed
	res.Details["results"] = results
	res.Details["errors"] = errs
	res.Details["progress"] = progress
}

func lastOutput(results []StepResult) string {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Success && strings.TrimSpace(results[i].Output) != "" {
			return results[i].Output
		}
	}
	return ""
}
