package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/internal/metrics"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
	"github.com/taskflowhq/taskflow/store"
	"github.com/taskflowhq/taskflow/types"
)

const (
	// DefaultTimeout bounds waits on workflow completion.
	DefaultTimeout = 5 * time.Minute
	// DefaultMaxConcurrent is the advisory ceiling on background workflows.
	DefaultMaxConcurrent = 10
	// archiveTimeout bounds the archive write after a run concludes. The
	// write runs on its own context so a cancelled run still gets archived.
	archiveTimeout = 5 * time.Second
)

// StartedCallback fires when a workflow run begins.
type StartedCallback func(workflowID string)

// TaskCallback fires for every task completed by a graph-backed workflow.
type TaskCallback func(workflowID string, task graph.View)

// CompletedCallback fires when a workflow run succeeds.
type CompletedCallback func(workflowID string, result *Result)

// FailedCallback fires when a workflow run fails.
type FailedCallback func(workflowID string, errMsg string)

// historyRecorder is satisfied by every strategy embedding Base. The manager
// uses it to append run history; custom Workflow implementations without it
// simply keep no history.
type historyRecorder interface {
	appendHistory(goal string, res *Result)
	lastResult() *Result
}

// failable lets the manager settle the status of a panicked workflow.
type failable interface {
	forceFail()
}

// unit tracks one background workflow run.
type unit struct {
	done   chan struct{}
	cancel context.CancelFunc
	result *Result
}

// Manager owns workflow instances: it registers strategy factories, creates
// and validates workflows, runs them in the foreground or background, and
// dispatches lifecycle callbacks.
type Manager struct {
	oracle  oracle.Oracle
	prompts *prompt.Registry
	logger  *zap.Logger
	metrics *metrics.Collector
	archive store.Store
	counter *oracle.TokenCounter

	defaultTimeout time.Duration
	maxConcurrent  int

	mu        sync.RWMutex
	types     map[string]Factory
	workflows map[string]Workflow
	active    map[string]*unit
	started   []StartedCallback
	taskDone  []TaskCallback
	completed []CompletedCallback
	failed    []FailedCallback
}

// NewManager creates a manager with the default timeout and concurrency
// ceiling. The oracle may be nil; workflows then run with their fallbacks.
func NewManager(o oracle.Oracle, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		oracle:         o,
		prompts:        prompt.Defaults(),
		logger:         logger.With(zap.String("component", "workflow_manager")),
		defaultTimeout: DefaultTimeout,
		maxConcurrent:  DefaultMaxConcurrent,
		types:          make(map[string]Factory),
		workflows:      make(map[string]Workflow),
		active:         make(map[string]*unit),
	}
}

// WithPrompts replaces the template registry shared with workflows.
func (m *Manager) WithPrompts(r *prompt.Registry) *Manager {
	if r != nil {
		m.prompts = r
	}
	return m
}

// WithMetrics attaches a metrics collector.
func (m *Manager) WithMetrics(c *metrics.Collector) *Manager {
	m.metrics = c
	return m
}

// WithStore attaches a run archive. Every concluded run is saved to it;
// archive failures are logged and never fail the run.
func (m *Manager) WithStore(s store.Store) *Manager {
	m.archive = s
	return m
}

// WithTokenCounter attaches a prompt token counter handed to planner-backed
// workflows.
func (m *Manager) WithTokenCounter(c *oracle.TokenCounter) *Manager {
	m.counter = c
	return m
}

// WithDefaultTimeout sets the wait timeout used when callers pass none.
func (m *Manager) WithDefaultTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.defaultTimeout = d
	}
	return m
}

// WithMaxConcurrent sets the advisory ceiling on background workflows.
func (m *Manager) WithMaxConcurrent(n int) *Manager {
	if n > 0 {
		m.maxConcurrent = n
	}
	return m
}

// RegisterDefaults registers every built-in strategy.
func (m *Manager) RegisterDefaults() *Manager {
	_ = m.RegisterType(TypePlanning, PlanningFactory)
	_ = m.RegisterType(TypeSequential, SequentialFactory)
	_ = m.RegisterType(TypeInteractive, InteractiveFactory)
	_ = m.RegisterType(TypeCodeExecute, CodeExecuteFactory)
	_ = m.RegisterType(TypeHumanLoop, HumanLoopFactory)
	return m
}

// RegisterType registers a strategy factory under a name, replacing any
// previous registration.
func (m *Manager) RegisterType(name string, f Factory) error {
	if name == "" {
		return types.NewError(types.ErrInvalidRequest, "workflow type name is empty")
	}
	if f == nil {
		return types.NewErrorf(types.ErrInvalidRequest, "workflow factory for type %q is nil", name)
	}
	m.mu.Lock()
	if _, exists := m.types[name]; exists {
		m.logger.Debug("replacing workflow type registration", zap.String("workflow_type", name))
	}
	m.types[name] = f
	m.mu.Unlock()
	return nil
}

// Types lists the registered strategy names, sorted.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.types))
	for name := range m.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateWorkflow builds a workflow of the given type and validates the goal
// against it. The instance is registered and stays until cleanup.
func (m *Manager) CreateWorkflow(wtype, goal string, cfg Config) (Workflow, error) {
	m.mu.RLock()
	factory, ok := m.types[wtype]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownWorkflowType,
			"unknown workflow type %q, available types: %s", wtype, strings.Join(m.Types(), ", "))
	}

	deps := Deps{
		Oracle:   m.oracle,
		Prompts:  m.prompts,
		Logger:   m.logger,
		Counter:  m.counter,
		TaskSink: m.fireTaskCompleted,
	}
	wf, err := factory(deps, cfg)
	if err != nil {
		return nil, types.NewErrorf(types.ErrInternal, "building workflow type %q", wtype).WithCause(err)
	}
	if !wf.Validate(goal) {
		return nil, types.NewErrorf(types.ErrGoalRejected,
			"goal is not suitable for workflow type %q", wtype)
	}

	m.mu.Lock()
	m.workflows[wf.ID()] = wf
	m.mu.Unlock()

	m.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID()),
		zap.String("workflow_type", wtype))
	if m.metrics != nil {
		m.metrics.WorkflowCreated(wtype)
	}
	return wf, nil
}

// Workflow returns a registered instance by id.
func (m *Manager) Workflow(id string) (Workflow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wf, ok := m.workflows[id]
	return wf, ok
}

func (m *Manager) lookup(id string) (Workflow, error) {
	m.mu.RLock()
	wf, ok := m.workflows[id]
	m.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrWorkflowNotFound, "workflow not found: %s", id)
	}
	return wf, nil
}

// List returns snapshots of every registered workflow, oldest first.
func (m *Manager) List() []State {
	m.mu.RLock()
	snapshots := make([]State, 0, len(m.workflows))
	for _, wf := range m.workflows {
		snapshots = append(snapshots, wf.Snapshot())
	}
	m.mu.RUnlock()
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].ID < snapshots[j].ID
		}
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// ListByStatus returns snapshots of workflows in the given state.
func (m *Manager) ListByStatus(status Status) []State {
	all := m.List()
	out := all[:0]
	for _, s := range all {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// ListByType returns snapshots of workflows of the given strategy type.
func (m *Manager) ListByType(wtype string) []State {
	all := m.List()
	out := all[:0]
	for _, s := range all {
		if s.Type == wtype {
			out = append(out, s)
		}
	}
	return out
}

// History returns the execution history of a workflow.
func (m *Manager) History(id string) ([]HistoryEntry, error) {
	wf, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if h, ok := wf.(interface{ History() []HistoryEntry }); ok {
		return h.History(), nil
	}
	return nil, nil
}

// StartWorkflow runs a workflow to completion in the caller's goroutine.
func (m *Manager) StartWorkflow(ctx context.Context, id, goal string, vars map[string]any) (*Result, error) {
	wf, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return m.runWorkflow(ctx, wf, goal, vars), nil
}

// StartWorkflowAsync runs a workflow in the background. The result is
// retrieved with WaitForCompletion. The concurrency ceiling is advisory: a
// start beyond it proceeds with a warning.
func (m *Manager) StartWorkflowAsync(id, goal string, vars map[string]any) error {
	wf, err := m.lookup(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if _, running := m.active[id]; running {
		m.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidRequest, "workflow %s is already running", id)
	}
	if len(m.active) >= m.maxConcurrent {
		m.logger.Warn("concurrent workflow ceiling exceeded",
			zap.Int("active", len(m.active)),
			zap.Int("ceiling", m.maxConcurrent))
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &unit{done: make(chan struct{}), cancel: cancel}
	m.active[id] = u
	m.mu.Unlock()
	m.setActiveGauge()

	go func() {
		defer cancel()
		u.result = m.runWorkflow(ctx, wf, goal, vars)
		close(u.done)
		m.mu.Lock()
		if m.active[id] == u {
			delete(m.active, id)
		}
		m.mu.Unlock()
		m.setActiveGauge()
	}()
	return nil
}

// WaitForCompletion blocks until a background workflow finishes. A zero or
// negative timeout uses the manager default; on timeout the workflow is
// cancelled and a timeout error returned. For an id with no background run
// the last stored result is returned if the workflow completed.
func (m *Manager) WaitForCompletion(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	wf, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	u := m.active[id]
	m.mu.RUnlock()

	if u == nil {
		if wf.Status() == StatusCompleted {
			if rec, ok := wf.(historyRecorder); ok {
				if last := rec.lastResult(); last != nil {
					return last, nil
				}
			}
		}
		return nil, types.NewErrorf(types.ErrInvalidRequest, "no active task for workflow: %s", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-u.done:
		return u.result, nil
	case <-timer.C:
		_ = m.CancelWorkflow(id)
		return nil, types.NewErrorf(types.ErrTimeout, "workflow %s timed out", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitForAll waits for the given workflows under one shared timeout. Ids
// without a background run contribute their stored result when completed and
// are skipped otherwise. On timeout every listed workflow is cancelled.
func (m *Manager) WaitForAll(ctx context.Context, ids []string, timeout time.Duration) ([]*Result, error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	results := make([]*Result, 0, len(ids))
	for _, id := range ids {
		m.mu.RLock()
		u := m.active[id]
		m.mu.RUnlock()

		if u == nil {
			if wf, err := m.lookup(id); err == nil && wf.Status() == StatusCompleted {
				if rec, ok := wf.(historyRecorder); ok {
					if last := rec.lastResult(); last != nil {
						results = append(results, last)
					}
				}
			}
			continue
		}
		select {
		case <-u.done:
			results = append(results, u.result)
		case <-deadline.C:
			m.CancelWorkflows(ids)
			return results, types.NewError(types.ErrTimeout, "timed out waiting for workflows")
		case <-ctx.Done():
			return results, ctx.Err()
		}
	}
	return results, nil
}

// PauseWorkflow suspends a running workflow.
func (m *Manager) PauseWorkflow(id string) error {
	wf, err := m.lookup(id)
	if err != nil {
		return err
	}
	wf.Pause()
	return nil
}

// ResumeWorkflow continues a paused workflow.
func (m *Manager) ResumeWorkflow(id string) error {
	wf, err := m.lookup(id)
	if err != nil {
		return err
	}
	wf.Resume()
	return nil
}

// CancelWorkflow cancels a workflow and its background run, if any.
func (m *Manager) CancelWorkflow(id string) error {
	wf, err := m.lookup(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	u := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()

	wf.Cancel()
	if u != nil {
		u.cancel()
	}
	m.setActiveGauge()
	return nil
}

// CancelWorkflows cancels each listed workflow, ignoring unknown ids.
func (m *Manager) CancelWorkflows(ids []string) {
	for _, id := range ids {
		if err := m.CancelWorkflow(id); err != nil {
			m.logger.Debug("cancel skipped", zap.String("workflow_id", id), zap.Error(err))
		}
	}
}

// CleanupCompleted removes terminal workflows whose last state change is
// older than the given age and returns how many were removed. An age of zero
// removes every terminal workflow.
func (m *Manager) CleanupCompleted(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	m.mu.Lock()
	removed := 0
	for id, wf := range m.workflows {
		if !wf.Status().Terminal() {
			continue
		}
		if aged, ok := wf.(interface{ UpdatedAt() time.Time }); ok {
			if aged.UpdatedAt().After(cutoff) {
				continue
			}
		}
		delete(m.workflows, id)
		delete(m.active, id)
		removed++
	}
	m.mu.Unlock()
	if removed > 0 {
		m.logger.Info("cleaned up terminal workflows", zap.Int("removed", removed))
	}
	return removed
}

// OnWorkflowStarted registers a callback fired when a run begins.
func (m *Manager) OnWorkflowStarted(cb StartedCallback) {
	m.mu.Lock()
	m.started = append(m.started, cb)
	m.mu.Unlock()
}

// OnTaskCompleted registers a callback fired for each completed task.
func (m *Manager) OnTaskCompleted(cb TaskCallback) {
	m.mu.Lock()
	m.taskDone = append(m.taskDone, cb)
	m.mu.Unlock()
}

// OnWorkflowCompleted registers a callback fired when a run succeeds.
func (m *Manager) OnWorkflowCompleted(cb CompletedCallback) {
	m.mu.Lock()
	m.completed = append(m.completed, cb)
	m.mu.Unlock()
}

// OnWorkflowFailed registers a callback fired when a run fails.
func (m *Manager) OnWorkflowFailed(cb FailedCallback) {
	m.mu.Lock()
	m.failed = append(m.failed, cb)
	m.mu.Unlock()
}

// runWorkflow is the wrapper around every execution: it fires lifecycle
// callbacks, converts panics into failed results, records history and
// metrics. Panicked runs keep no history entry.
func (m *Manager) runWorkflow(ctx context.Context, wf Workflow, goal string, vars map[string]any) *Result {
	start := time.Now()
	m.fireStarted(wf.ID())
	m.logger.Info("workflow started",
		zap.String("workflow_id", wf.ID()),
		zap.String("workflow_type", wf.Type()),
		zap.String("goal", goal))

	res, err, panicked := m.executeGuarded(ctx, wf, goal, vars)
	if res == nil {
		res = &Result{
			WorkflowID: wf.ID(),
			Type:       wf.Type(),
			Goal:       goal,
			StartedAt:  start,
			FinishedAt: time.Now(),
		}
		res.Duration = res.FinishedAt.Sub(res.StartedAt)
	}
	if err != nil && res.Error == "" {
		res.Error = err.Error()
	}

	if panicked {
		if ff, ok := wf.(failable); ok {
			ff.forceFail()
		}
	} else if rec, ok := wf.(historyRecorder); ok {
		rec.appendHistory(goal, res)
	}

	if res.Success {
		m.fireCompleted(wf.ID(), res)
	} else {
		m.fireFailed(wf.ID(), res.Error)
	}
	m.archiveRun(wf, res)
	if m.metrics != nil {
		m.metrics.WorkflowFinished(wf.Type(), string(wf.Status()), time.Since(start))
	}
	m.logger.Info("workflow finished",
		zap.String("workflow_id", wf.ID()),
		zap.String("status", string(wf.Status())),
		zap.Bool("success", res.Success),
		zap.Duration("duration", res.Duration))
	return res
}

// archiveRun saves the concluded run to the attached archive. Failures are
// logged and recorded in metrics; the run itself is unaffected.
func (m *Manager) archiveRun(wf Workflow, res *Result) {
	if m.archive == nil {
		return
	}
	rec := &store.RunRecord{
		WorkflowID: res.WorkflowID,
		Type:       res.Type,
		Status:     string(wf.Status()),
		Goal:       res.Goal,
		Output:     res.Output,
		Error:      res.Error,
		Success:    res.Success,
		Details:    res.Details,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.Duration,
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	start := time.Now()
	err := m.archive.SaveRun(ctx, rec)
	if m.metrics != nil {
		backend := string(m.archive.Backend())
		m.metrics.RecordStoreOp(backend, "save_run", time.Since(start))
		if err != nil {
			m.metrics.RecordStoreError(backend, "save_run")
		}
	}
	if err != nil {
		m.logger.Warn("run archive failed",
			zap.String("workflow_id", res.WorkflowID),
			zap.Error(err))
	}
}

func (m *Manager) executeGuarded(ctx context.Context, wf Workflow, goal string, vars map[string]any) (res *Result, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("workflow panicked: %v", r)
			m.logger.Error("workflow panicked",
				zap.String("workflow_id", wf.ID()),
				zap.Any("panic", r))
		}
	}()
	res, err = wf.Execute(ctx, goal, vars)
	return res, err, false
}

func (m *Manager) fireStarted(id string) {
	m.mu.RLock()
	cbs := append([]StartedCallback(nil), m.started...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		m.safely(func() { cb(id) })
	}
}

func (m *Manager) fireTaskCompleted(id string, task graph.View) {
	m.mu.RLock()
	cbs := append([]TaskCallback(nil), m.taskDone...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		m.safely(func() { cb(id, task) })
	}
	if m.metrics != nil {
		m.metrics.TaskFinished(string(task.Status))
	}
}

func (m *Manager) fireCompleted(id string, res *Result) {
	m.mu.RLock()
	cbs := append([]CompletedCallback(nil), m.completed...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		m.safely(func() { cb(id, res) })
	}
}

func (m *Manager) fireFailed(id string, errMsg string) {
	m.mu.RLock()
	cbs := append([]FailedCallback(nil), m.failed...)
	m.mu.RUnlock()
	for _, cb := range cbs {
		m.safely(func() { cb(id, errMsg) })
	}
}

// safely runs a callback, logging instead of propagating its panic so one
// bad callback cannot break dispatch to the rest.
func (m *Manager) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("workflow callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

func (m *Manager) setActiveGauge() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	n := len(m.active)
	m.mu.RUnlock()
	m.metrics.SetActiveWorkflows(n)
}
