package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/taskflowhq/taskflow/types"
	"github.com/taskflowhq/taskflow/workflow"
)

// CodeRunner is a canned workflow.CodeExecutor. It records every submitted
// snippet and can be told to fail the first n runs, which drives the
// generate-execute-refine loop through its retry path:
//
//	runner := mocks.NewCodeRunner().FailTimes(2)
//	cfg.Code.Executor = runner.Run
type CodeRunner struct {
	mu        sync.Mutex
	failTimes int
	output    string
	err       error
	codes     []string
}

// NewCodeRunner returns a runner that succeeds on every call.
func NewCodeRunner() *CodeRunner {
	return &CodeRunner{output: "ok"}
}

// FailTimes makes the first n runs report a failed execution.
func (r *CodeRunner) FailTimes(n int) *CodeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failTimes = n
	return r
}

// WithOutput sets the stdout reported by successful runs.
func (r *CodeRunner) WithOutput(out string) *CodeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.output = out
	return r
}

// WithError makes every run return err instead of a result.
func (r *CodeRunner) WithError(err error) *CodeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r
}

// Run implements workflow.CodeExecutor; pass it as cfg.Code.Executor.
func (r *CodeRunner) Run(ctx context.Context, code string, vars map[string]any) (*workflow.ExecutionResult, error) {
	r.mu.Lock()
	r.codes = append(r.codes, code)
	attempt := len(r.codes)
	failTimes := r.failTimes
	output := r.output
	err := r.err
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if attempt <= failTimes {
		return &workflow.ExecutionResult{
			Success: false,
			Error:   fmt.Sprintf("induced failure on attempt %d", attempt),
		}, nil
	}
	return &workflow.ExecutionResult{Success: true, Output: output}, nil
}

// Codes returns every submitted snippet, in order.
func (r *CodeRunner) Codes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

// Count returns how many times Run was called.
func (r *CodeRunner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codes)
}

// ActionRecorder is a canned workflow.ActionExecutor. It records executed
// proposals and, when CompleteAfter is set, marks the goal completed once
// enough actions ran, so a human-loop test finishes without a real oracle:
//
//	rec := mocks.NewActionRecorder().CompleteAfter(2)
//	cfg.HumanLoop.Action = rec.Execute
type ActionRecorder struct {
	mu            sync.Mutex
	completeAfter int
	outcome       map[string]any
	err           error
	proposals     []workflow.Proposal
}

// NewActionRecorder returns a recorder whose actions all succeed.
func NewActionRecorder() *ActionRecorder {
	return &ActionRecorder{}
}

// CompleteAfter sets vars["completed"] after n executed actions, which the
// default human-loop completion check picks up.
func (r *ActionRecorder) CompleteAfter(n int) *ActionRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completeAfter = n
	return r
}

// WithOutcome sets the map returned by every execution.
func (r *ActionRecorder) WithOutcome(outcome map[string]any) *ActionRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	return r
}

// WithError makes every execution fail with err.
func (r *ActionRecorder) WithError(err error) *ActionRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	return r
}

// Execute implements workflow.ActionExecutor; pass it as cfg.HumanLoop.Action.
func (r *ActionRecorder) Execute(ctx context.Context, p workflow.Proposal, vars map[string]any) (map[string]any, error) {
	r.mu.Lock()
	r.proposals = append(r.proposals, p)
	n := len(r.proposals)
	completeAfter := r.completeAfter
	outcome := r.outcome
	err := r.err
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if completeAfter > 0 && n >= completeAfter {
		vars["completed"] = true
	}
	if outcome != nil {
		return outcome, nil
	}
	return map[string]any{"success": true, "action": p.ActionType}, nil
}

// Proposals returns every executed proposal, in order.
func (r *ActionRecorder) Proposals() []workflow.Proposal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.Proposal, len(r.proposals))
	copy(out, r.proposals)
	return out
}

// Count returns how many actions were executed.
func (r *ActionRecorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proposals)
}

// ApproveAll returns an approval policy that approves every proposal.
func ApproveAll() workflow.ApprovalRequester {
	return func(ctx context.Context, p workflow.Proposal, vars map[string]any) (workflow.Approval, error) {
		return workflow.Approval{Approved: true, At: time.Now()}, nil
	}
}

// RejectAll returns an approval policy that rejects every proposal with the
// given feedback.
func RejectAll(feedback string) workflow.ApprovalRequester {
	return func(ctx context.Context, p workflow.Proposal, vars map[string]any) (workflow.Approval, error) {
		return workflow.Approval{Feedback: feedback, At: time.Now()}, nil
	}
}

// ApproveTypes returns an approval policy that approves only proposals of
// the given action types.
func ApproveTypes(actionTypes ...string) workflow.ApprovalRequester {
	allowed := make(map[string]struct{}, len(actionTypes))
	for _, at := range actionTypes {
		allowed[at] = struct{}{}
	}
	return func(ctx context.Context, p workflow.Proposal, vars map[string]any) (workflow.Approval, error) {
		if _, ok := allowed[p.ActionType]; ok {
			return workflow.Approval{Approved: true, At: time.Now()}, nil
		}
		return workflow.Approval{Feedback: "action type not allowed: " + p.ActionType, At: time.Now()}, nil
	}
}

// ScriptedInput returns a workflow.InputProvider that feeds the given user
// turns in order and ends the conversation once they run out.
func ScriptedInput(turns ...string) workflow.InputProvider {
	var mu sync.Mutex
	i := 0
	return func(history []types.Message) (string, bool) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(turns) {
			return "", false
		}
		turn := turns[i]
		i++
		return turn, true
	}
}
