package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
)

// TypeHumanLoop names the human-in-the-loop approval strategy.
const TypeHumanLoop = "human_loop"

// safeActions may be auto-approved when the workflow allows it.
var safeActions = []string{"analyze", "review", "read"}

// Proposal is an action the workflow wants to take, pending approval.
type Proposal struct {
	ID          string         `json:"id"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Approval is the decision on a proposal.
type Approval struct {
	Approved bool      `json:"approved"`
	Feedback string    `json:"feedback,omitempty"`
	At       time.Time `json:"at"`
}

// AuditEntry pairs a proposal with its decision. Every proposal is recorded,
// approved or not.
type AuditEntry struct {
	Iteration int      `json:"iteration"`
	Proposal  Proposal `json:"proposal"`
	Approval  Approval `json:"approval"`
}

// ApprovalRequester asks a human (or policy) to decide on a proposal.
type ApprovalRequester func(ctx context.Context, p Proposal, vars map[string]any) (Approval, error)

// ActionExecutor carries out an approved proposal and returns its outcome.
type ActionExecutor func(ctx context.Context, p Proposal, vars map[string]any) (map[string]any, error)

// HumanLoopConfig controls the approval strategy.
type HumanLoopConfig struct {
	// MaxIterations bounds the propose-approve-execute rounds.
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`
	// AutoApproveSafe approves analyze/review/read proposals without asking.
	AutoApproveSafe bool `json:"auto_approve_safe_actions" yaml:"auto_approve_safe_actions"`
	// Approval decides on proposals; nil rejects everything not auto-approved.
	Approval ApprovalRequester `json:"-" yaml:"-"`
	// Action executes approved proposals; nil falls back to the oracle.
	Action ActionExecutor `json:"-" yaml:"-"`
	// Completion decides when the goal is reached; nil checks the "completed"
	// flag in the evolving context.
	Completion func(vars map[string]any) bool `json:"-" yaml:"-"`
}

// DefaultHumanLoopConfig returns the documented human-loop defaults.
func DefaultHumanLoopConfig() HumanLoopConfig {
	return HumanLoopConfig{MaxIterations: 10}
}

// HumanLoop proposes actions toward the goal and executes only what gets
// approved. Rejections feed their feedback into the next proposal; every
// decision lands in the audit trail.
type HumanLoop struct {
	Base
	cfg     HumanLoopConfig
	oracle  oracle.Oracle
	prompts *prompt.Registry

	amu   sync.RWMutex
	audit []AuditEntry
}

// NewHumanLoop builds a human-loop workflow from dependencies and config.
func NewHumanLoop(deps Deps, cfg HumanLoopConfig) *HumanLoop {
	deps = deps.normalized()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultHumanLoopConfig().MaxIterations
	}
	return &HumanLoop{
		Base:    newBase(TypeHumanLoop, deps.Logger),
		cfg:     cfg,
		oracle:  deps.Oracle,
		prompts: deps.Prompts,
	}
}

// HumanLoopFactory is the Factory for the human-in-the-loop strategy.
func HumanLoopFactory(deps Deps, cfg Config) (Workflow, error) {
	return NewHumanLoop(deps, cfg.HumanLoop), nil
}

// Validate accepts any non-empty goal.
func (w *HumanLoop) Validate(goal string) bool {
	return strings.TrimSpace(goal) != ""
}

// AuditTrail returns a copy of the decisions recorded so far.
func (w *HumanLoop) AuditTrail() []AuditEntry {
	w.amu.RLock()
	defer w.amu.RUnlock()
	out := make([]AuditEntry, len(w.audit))
	copy(out, w.audit)
	return out
}

// Execute runs the propose-approve-execute loop until the completion check
// passes or the iteration limit is reached.
func (w *HumanLoop) Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error) {
	res := w.newResult(goal)
	if !w.markRunning() {
		return w.conclude(res), nil
	}
	rctx, stop := w.runCtx(ctx)
	defer stop()
	w.setSteps(w.cfg.MaxIterations)

	local := cloneVars(vars)
	var audit []AuditEntry
	approved, rejected := 0, 0
	complete := false

	for iter := 1; iter <= w.cfg.MaxIterations; iter++ {
		if gateErr := w.pauseGate(ctx); gateErr != nil {
			if errors.Is(gateErr, errCancelled) {
				break
			}
			w.loopDetails(res, local, audit, approved, rejected, complete)
			return w.conclude(res), gateErr
		}
		if w.isDone(local) {
			complete = true
			break
		}

		prop, err := w.propose(rctx, goal, local)
		if err != nil {
			if w.cancelledNow() {
				break
			}
			w.loopDetails(res, local, audit, approved, rejected, complete)
			if cause := ctx.Err(); cause != nil {
				return w.conclude(res), cause
			}
			res.Error = err.Error()
			return w.conclude(res), nil
		}

		decision, err := w.decide(rctx, prop, local)
		if err != nil {
			if rctx.Err() != nil {
				if w.cancelledNow() {
					break
				}
				w.loopDetails(res, local, audit, approved, rejected, complete)
				return w.conclude(res), ctx.Err()
			}
			// an approval fault counts as a rejection with the fault as feedback
			decision = Approval{Feedback: err.Error(), At: time.Now()}
		}

		audit = append(audit, AuditEntry{Iteration: iter, Proposal: prop, Approval: decision})
		w.storeAudit(audit)
		w.setStep(iter)

		if !decision.Approved {
			rejected++
			local["last_feedback"] = decision.Feedback
			local["last_proposal"] = prop
			continue
		}
		approved++

		outcome, err := w.perform(rctx, prop, local)
		if err != nil {
			if rctx.Err() != nil {
				if w.cancelledNow() {
					break
				}
				w.loopDetails(res, local, audit, approved, rejected, complete)
				return w.conclude(res), ctx.Err()
			}
			outcome = map[string]any{"success": false, "error": err.Error()}
		}
		local["last_result"] = outcome
		local["last_proposal"] = prop
	}

	// the final action may have completed the goal
	if !complete && !w.cancelledNow() {
		complete = w.isDone(local)
	}

	w.loopDetails(res, local, audit, approved, rejected, complete)
	res.Success = complete
	return w.conclude(res), nil
}

// propose asks the oracle for the next action. Replies that do not parse as
// JSON become a general proposal carrying the raw text.
func (w *HumanLoop) propose(ctx context.Context, goal string, vars map[string]any) (Proposal, error) {
	now := time.Now()
	if w.oracle == nil {
		return Proposal{
			ID:          uuid.NewString(),
			ActionType:  "general",
			Description: "Work on: " + goal,
			CreatedAt:   now,
		}, nil
	}

	contextInfo := ""
	if len(vars) > 0 {
		contextInfo = "Context: " + contextJSON(vars)
	}
	p := "Propose an action to achieve: " + goal
	if tmpl, ok := w.prompts.Get(prompt.HumanLoopTemplate); ok {
		p = tmpl.Format(map[string]any{"goal": goal, "context_info": contextInfo})
	}
	if fb, ok := vars["last_feedback"].(string); ok && fb != "" {
		p += "\n\nPrevious feedback: " + fb
	}

	resp, err := w.oracle.Complete(ctx, oracle.Request{Prompt: p, Vars: vars})
	if err != nil {
		return Proposal{}, err
	}

	ext := ExtractProposal(resp.Content)
	if !ext.Parsed {
		return Proposal{
			ID:          uuid.NewString(),
			ActionType:  "general",
			Description: truncateRunes(resp.Content, 200),
			Details:     map[string]any{"raw_response": resp.Content},
			CreatedAt:   now,
		}, nil
	}
	return Proposal{
		ID:          uuid.NewString(),
		ActionType:  ext.ActionType,
		Description: ext.Description,
		Details:     ext.Details,
		CreatedAt:   now,
	}, nil
}

func (w *HumanLoop) decide(ctx context.Context, p Proposal, vars map[string]any) (Approval, error) {
	if w.cfg.Approval != nil {
		return w.cfg.Approval(ctx, p, vars)
	}
	if w.cfg.AutoApproveSafe && isSafeAction(p.ActionType) {
		return Approval{Approved: true, Feedback: "Auto-approved (safe action)", At: time.Now()}, nil
	}
	return Approval{Feedback: "No approval handler configured", At: time.Now()}, nil
}

func (w *HumanLoop) perform(ctx context.Context, p Proposal, vars map[string]any) (map[string]any, error) {
	if w.cfg.Action != nil {
		return w.cfg.Action(ctx, p, vars)
	}
	if w.oracle == nil {
		return map[string]any{"success": true, "message": "Executed: " + p.Description}, nil
	}
	req := "Execute the following action:\n" + p.Description
	if len(p.Details) > 0 {
		req += "\n\nDetails: " + contextJSON(p.Details)
	}
	resp, err := w.oracle.Complete(ctx, oracle.Request{Prompt: req, Vars: vars})
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "output": resp.Content}, nil
}

func (w *HumanLoop) isDone(vars map[string]any) bool {
	if w.cfg.Completion != nil {
		return w.cfg.Completion(vars)
	}
	done, ok := vars["completed"].(bool)
	return ok && done
}

func (w *HumanLoop) storeAudit(audit []AuditEntry) {
	w.amu.Lock()
	w.audit = append(w.audit[:0], audit...)
	w.amu.Unlock()
}

func (w *HumanLoop) loopDetails(res *Result, local map[string]any, audit []AuditEntry, approved, rejected int, complete bool) {
	res.Details["completed"] = complete
	res.Details["total_proposals"] = len(audit)
	res.Details["approved"] = approved
	res.Details["rejected"] = rejected
	res.Details["proposal_history"] = append([]AuditEntry(nil), audit...)
	res.Details["final_context"] = local
}

func isSafeAction(actionType string) bool {
	lower := strings.ToLower(actionType)
	for _, safe := range safeActions {
		if lower == safe {
			return true
		}
	}
	return false
}

func cloneVars(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}
