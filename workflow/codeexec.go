package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
)

// TypeCodeExecute names the code-execute-refine strategy.
const TypeCodeExecute = "code_execute_refine"

// codeGoalKeywords gate Validate: the goal must look like a coding task.
var codeGoalKeywords = []string{
	"code", "function", "script", "program", "implement",
	"write", "generate code", "python", "javascript", "algorithm",
}

// ExecutionResult is the outcome of running generated code.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CodeExecutor runs generated code and reports the outcome. Faults may be
// returned either as a failed result or as an error; both feed the next
// refinement round.
type CodeExecutor func(ctx context.Context, code string, vars map[string]any) (*ExecutionResult, error)

// SuccessChecker decides whether an execution result counts as success.
type SuccessChecker func(*ExecutionResult) bool

// Iteration records one generate-execute round.
type Iteration struct {
	Attempt int              `json:"attempt"`
	Code    string           `json:"code"`
	Result  *ExecutionResult `json:"result"`
}

// CodeConfig controls the code-execute-refine strategy.
type CodeConfig struct {
	// MaxIterations bounds the generate-execute-refine rounds.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// Language is the target language named in prompts.
	Language string `json:"language" yaml:"language"`
	// Executor runs the generated code; nil simulates success.
	Executor CodeExecutor `json:"-" yaml:"-"`
	// Success overrides the default success check.
	Success SuccessChecker `json:"-" yaml:"-"`
}

// DefaultCodeConfig returns the documented code workflow defaults.
func DefaultCodeConfig() CodeConfig {
	return CodeConfig{MaxIterations: 5, Language: "python"}
}

// CodeExecute generates code for the goal, runs it, and feeds failures back
// into refinement until the code passes or the iteration limit is reached.
type CodeExecute struct {
	Base
	cfg     CodeConfig
	oracle  oracle.Oracle
	prompts *prompt.Registry
}

// NewCodeExecute builds a code workflow from dependencies and config.
func NewCodeExecute(deps Deps, cfg CodeConfig) *CodeExecute {
	deps = deps.normalized()
	def := DefaultCodeConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	return &CodeExecute{
		Base:    newBase(TypeCodeExecute, deps.Logger),
		cfg:     cfg,
		oracle:  deps.Oracle,
		prompts: deps.Prompts,
	}
}

// CodeExecuteFactory is the Factory for the code-execute-refine strategy.
func CodeExecuteFactory(deps Deps, cfg Config) (Workflow, error) {
	return NewCodeExecute(deps, cfg.Code), nil
}

// Validate accepts goals that read like coding tasks.
func (w *CodeExecute) Validate(goal string) bool {
	lower := strings.ToLower(goal)
	for _, kw := range codeGoalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Execute runs the generate-execute-refine loop.
func (w *CodeExecute) Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error) {
	res := w.newResult(goal)
	if !w.markRunning() {
		return w.conclude(res), nil
	}
	rctx, stop := w.runCtx(ctx)
	defer stop()
	w.setSteps(w.cfg.MaxIterations)

	var (
		code    string
		lastRun *ExecutionResult
		history []Iteration
		success bool
	)
	for attempt := 1; attempt <= w.cfg.MaxIterations; attempt++ {
		if gateErr := w.pauseGate(ctx); gateErr != nil {
			if errors.Is(gateErr, errCancelled) {
				break
			}
			w.codeDetails(res, code, lastRun, history, success)
			return w.conclude(res), gateErr
		}

		var raw string
		var err error
		if attempt == 1 {
			raw, err = w.generate(rctx, goal, vars)
		} else {
			raw, err = w.refine(rctx, code, lastRun, vars)
		}
		if err != nil {
			if w.cancelledNow() {
				break
			}
			w.codeDetails(res, code, lastRun, history, success)
			if cause := ctx.Err(); cause != nil {
				return w.conclude(res), cause
			}
			res.Error = err.Error()
			return w.conclude(res), nil
		}
		code = ExtractCode(raw).Code

		lastRun, err = w.runCode(rctx, code, vars)
		if err != nil {
			if rctx.Err() != nil {
				if w.cancelledNow() {
					break
				}
				w.codeDetails(res, code, lastRun, history, success)
				return w.conclude(res), ctx.Err()
			}
			lastRun = &ExecutionResult{Error: err.Error()}
		}
		history = append(history, Iteration{Attempt: attempt, Code: code, Result: lastRun})
		w.setStep(attempt)

		if lastRun.Success && w.passes(lastRun) {
			success = true
			break
		}
	}

	w.codeDetails(res, code, lastRun, history, success)
	res.Output = code
	res.Success = success
	return w.conclude(res), nil
}

func (w *CodeExecute) generate(ctx context.Context, goal string, vars map[string]any) (string, error) {
	if w.oracle == nil {
		return fmt.Sprintf("# Code for: %s\n# Implementation needed\n", goal), nil
	}
	contextInfo := ""
	if len(vars) > 0 {
		contextInfo = "Context: " + contextJSON(vars)
	}
	p := fmt.Sprintf("Write %s code for: %s", w.cfg.Language, goal)
	if tmpl, ok := w.prompts.Get(prompt.CodeExecuteTemplate); ok {
		p = tmpl.Format(map[string]any{
			"language":     w.cfg.Language,
			"goal":         goal,
			"context_info": contextInfo,
		})
	}
	resp, err := w.oracle.Complete(ctx, oracle.Request{Prompt: p, Vars: vars})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// refine asks for a fixed version of the previous code. Without an oracle
// the previous code is returned unchanged.
func (w *CodeExecute) refine(ctx context.Context, code string, last *ExecutionResult, vars map[string]any) (string, error) {
	if w.oracle == nil {
		return code, nil
	}
	errInfo := "unknown failure"
	output := ""
	if last != nil {
		if last.Error != "" {
			errInfo = last.Error
		}
		output = last.Output
	}
	p := fmt.Sprintf("Fix this %s code:\n%s\nError: %s", w.cfg.Language, code, errInfo)
	if tmpl, ok := w.prompts.Get(prompt.CodeRefineTemplate); ok {
		p = tmpl.Format(map[string]any{
			"current_code": code,
			"error_info":   errInfo,
			"output":       output,
		})
	}
	resp, err := w.oracle.Complete(ctx, oracle.Request{Prompt: p, Vars: vars})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (w *CodeExecute) runCode(ctx context.Context, code string, vars map[string]any) (*ExecutionResult, error) {
	if w.cfg.Executor == nil {
		return &ExecutionResult{Success: true, Output: "Code execution simulated (no executor configured)"}, nil
	}
	return w.cfg.Executor(ctx, code, vars)
}

func (w *CodeExecute) passes(result *ExecutionResult) bool {
	if w.cfg.Success != nil {
		return w.cfg.Success(result)
	}
	return result.Success && result.Error == ""
}

func (w *CodeExecute) codeDetails(res *Result, code string, lastRun *ExecutionResult, history []Iteration, success bool) {
	status := "max_iterations_reached"
	if success {
		status = "success"
	}
	res.Details["code"] = code
	res.Details["execution_result"] = lastRun
	res.Details["iterations"] = len(history)
	res.Details["history"] = history
	res.Details["status"] = status
}
