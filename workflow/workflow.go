// Package workflow provides goal-driven execution strategies on top of the
// task graph: plan-and-execute, sequential steps, interactive conversation,
// code-execute-refine and human-in-the-loop approval. Workflows share a
// common lifecycle (pending, running, paused, completed, failed, cancelled)
// and are created and supervised through the Manager.
package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
)

// Status represents the lifecycle state of a workflow.
type Status string

const (
	// StatusPending indicates the workflow has not started yet.
	StatusPending Status = "pending"
	// StatusRunning indicates the workflow is executing.
	StatusRunning Status = "running"
	// StatusPaused indicates the workflow is suspended and can be resumed.
	StatusPaused Status = "paused"
	// StatusCompleted indicates the workflow finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the workflow finished with failures.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the workflow was cancelled before finishing.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// errCancelled is returned by the pause gate when the workflow was cancelled.
var errCancelled = errors.New("workflow cancelled")

// pausePollInterval is how often a paused workflow re-checks its status.
const pausePollInterval = 50 * time.Millisecond

// Result is the outcome of a single workflow execution. Details carries the
// strategy-specific fields (step results, conversation, audit trail, ...).
type Result struct {
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"workflow_type"`
	Success    bool           `json:"success"`
	Goal       string         `json:"goal"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
}

// HistoryEntry records one completed execution of a workflow instance.
type HistoryEntry struct {
	Goal      string    `json:"goal"`
	Result    *Result   `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// State is a point-in-time snapshot of a workflow instance.
type State struct {
	ID          string    `json:"workflow_id"`
	Type        string    `json:"workflow_type"`
	Status      Status    `json:"status"`
	Progress    float64   `json:"progress"`
	CurrentStep int       `json:"current_step"`
	TotalSteps  int       `json:"total_steps"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Executions  int       `json:"executions"`
}

// Workflow is the contract every execution strategy implements.
type Workflow interface {
	// ID returns the unique instance identifier.
	ID() string
	// Type returns the strategy name, e.g. "planning" or "sequential".
	Type() string
	// Status returns the current lifecycle state.
	Status() Status
	// Progress returns completion in percent (0 when no steps are known).
	Progress() float64
	// Execute runs the workflow toward the goal. Strategy faults are folded
	// into the result; a non-nil error is only returned when the parent
	// context ends the run.
	Execute(ctx context.Context, goal string, vars map[string]any) (*Result, error)
	// Validate reports whether the goal is suitable for this strategy.
	Validate(goal string) bool
	// Pause suspends a running workflow.
	Pause()
	// Resume continues a paused workflow.
	Resume()
	// Cancel stops the workflow; in-flight iterations end cooperatively.
	Cancel()
	// Snapshot returns the current state.
	Snapshot() State
}

// Deps bundles the collaborators a workflow factory needs.
type Deps struct {
	// Oracle answers prompts. Strategies fall back to canned output when nil.
	Oracle oracle.Oracle
	// Prompts supplies the template registry; nil means prompt.Defaults().
	Prompts *prompt.Registry
	// Logger for workflow internals; nil means a no-op logger.
	Logger *zap.Logger
	// Counter budgets planner prompts; nil disables token accounting.
	Counter *oracle.TokenCounter
	// TaskSink receives completed task snapshots from graph-backed workflows.
	TaskSink func(workflowID string, task graph.View)
}

func (d Deps) normalized() Deps {
	if d.Prompts == nil {
		d.Prompts = prompt.Defaults()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d
}

// Config carries the per-strategy settings a factory reads at construction.
// Zero values select the documented defaults of each strategy.
type Config struct {
	Planning    PlanningConfig    `json:"planning" yaml:"planning"`
	Sequential  SequentialConfig  `json:"sequential" yaml:"sequential"`
	Interactive InteractiveConfig `json:"interactive" yaml:"interactive"`
	Code        CodeConfig        `json:"code" yaml:"code"`
	HumanLoop   HumanLoopConfig   `json:"human_loop" yaml:"human_loop"`
}

// DefaultConfig returns the documented defaults of every strategy.
func DefaultConfig() Config {
	return Config{
		Planning:    DefaultPlanningConfig(),
		Sequential:  DefaultSequentialConfig(),
		Interactive: DefaultInteractiveConfig(),
		Code:        DefaultCodeConfig(),
		HumanLoop:   DefaultHumanLoopConfig(),
	}
}

// Factory builds a workflow instance from shared dependencies and config.
type Factory func(deps Deps, cfg Config) (Workflow, error)

// Base carries the lifecycle state shared by all workflow strategies.
type Base struct {
	id     string
	wtype  string
	logger *zap.Logger

	mu        sync.RWMutex
	status    Status
	current   int
	total     int
	createdAt time.Time
	updatedAt time.Time
	history   []HistoryEntry

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newBase(wtype string, logger *zap.Logger) Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := time.Now()
	return Base{
		id:        uuid.NewString(),
		wtype:     wtype,
		logger:    logger.With(zap.String("workflow_type", wtype)),
		status:    StatusPending,
		createdAt: now,
		updatedAt: now,
		cancelCh:  make(chan struct{}),
	}
}

// ID returns the unique instance identifier.
func (b *Base) ID() string { return b.id }

// Type returns the strategy name.
func (b *Base) Type() string { return b.wtype }

// Status returns the current lifecycle state.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Progress returns completion in percent, 0 when no steps are known.
func (b *Base) Progress() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.total == 0 {
		return 0
	}
	return float64(b.current) / float64(b.total) * 100
}

// Pause suspends the workflow. Only a running workflow can be paused.
func (b *Base) Pause() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusRunning {
		return
	}
	b.status = StatusPaused
	b.updatedAt = time.Now()
	b.logger.Debug("workflow paused", zap.String("workflow_id", b.id))
}

// Resume continues a paused workflow. Only a paused workflow can resume.
func (b *Base) Resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != StatusPaused {
		return
	}
	b.status = StatusRunning
	b.updatedAt = time.Now()
	b.logger.Debug("workflow resumed", zap.String("workflow_id", b.id))
}

// Cancel stops the workflow from pending, running or paused state. The
// cancellation token wakes every suspension point; in-flight iterations
// observe it and end without starting further work.
func (b *Base) Cancel() {
	b.mu.Lock()
	if b.status != StatusPending && b.status != StatusRunning && b.status != StatusPaused {
		b.mu.Unlock()
		return
	}
	b.status = StatusCancelled
	b.updatedAt = time.Now()
	b.mu.Unlock()
	b.cancelOnce.Do(func() { close(b.cancelCh) })
	b.logger.Info("workflow cancelled", zap.String("workflow_id", b.id))
}

// Snapshot returns the current state.
func (b *Base) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var progress float64
	if b.total > 0 {
		progress = float64(b.current) / float64(b.total) * 100
	}
	return State{
		ID:          b.id,
		Type:        b.wtype,
		Status:      b.status,
		Progress:    progress,
		CurrentStep: b.current,
		TotalSteps:  b.total,
		CreatedAt:   b.createdAt,
		UpdatedAt:   b.updatedAt,
		Executions:  len(b.history),
	}
}

// History returns a copy of the per-instance execution history.
func (b *Base) History() []HistoryEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]HistoryEntry, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Base) appendHistory(goal string, res *Result) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, HistoryEntry{Goal: goal, Result: res, Timestamp: time.Now()})
	b.updatedAt = time.Now()
}

func (b *Base) lastResult() *Result {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.history) == 0 {
		return nil
	}
	return b.history[len(b.history)-1].Result
}

// UpdatedAt returns the time of the last state change.
func (b *Base) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// markRunning moves the workflow into the running state. It reports false
// when the workflow was already cancelled, in which case the run must not
// start.
func (b *Base) markRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusCancelled {
		return false
	}
	b.status = StatusRunning
	b.current = 0
	b.updatedAt = time.Now()
	return true
}

func (b *Base) setSteps(total int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.updatedAt = time.Now()
}

func (b *Base) setStep(current int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = current
	b.updatedAt = time.Now()
}

func (b *Base) bumpStep() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current++
	b.updatedAt = time.Now()
}

func (b *Base) cancelledNow() bool {
	return b.Status() == StatusCancelled
}

// pauseGate is the cooperative suspension point every strategy loop passes
// through once per iteration. It blocks while the workflow is paused,
// returns errCancelled once the workflow is cancelled and propagates the
// context error when the parent context ends.
func (b *Base) pauseGate(ctx context.Context) error {
	for {
		switch b.Status() {
		case StatusCancelled:
			return errCancelled
		case StatusPaused:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-b.cancelCh:
			case <-time.After(pausePollInterval):
			}
		default:
			return ctx.Err()
		}
	}
}

// runCtx derives a context that also ends when the workflow is cancelled,
// so blocking calls below the strategy loop unwind promptly.
func (b *Base) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-b.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (b *Base) newResult(goal string) *Result {
	return &Result{
		WorkflowID: b.id,
		Type:       b.wtype,
		Goal:       goal,
		Details:    make(map[string]any),
		StartedAt:  time.Now(),
	}
}

// forceFail settles a workflow whose Execute never concluded, such as after
// a panic. Cancelled stays cancelled.
func (b *Base) forceFail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusCancelled {
		return
	}
	b.status = StatusFailed
	b.updatedAt = time.Now()
}

// conclude stamps the result and settles the final status. A cancelled
// workflow keeps its status; otherwise the result's success flag decides
// between completed and failed.
func (b *Base) conclude(res *Result) *Result {
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == StatusCancelled {
		res.Success = false
		if res.Error == "" {
			res.Error = "workflow cancelled"
		}
		return res
	}
	if res.Success {
		b.status = StatusCompleted
	} else {
		b.status = StatusFailed
	}
	b.updatedAt = time.Now()
	return res
}
