// Package graph provides the unit-of-work model and its dependency DAG:
// tasks, the task graph, and the executor that runs a graph under a
// scheduling policy.
package graph

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflowhq/taskflow/oracle"
)

// Status is the lifecycle state of a single task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusBlocked    Status = "blocked"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Priority orders tasks within a ready set. Critical runs first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// rank maps priorities to sort keys; unknown values sort as medium.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// ParsePriority normalizes a free-form priority string, defaulting to medium.
func ParsePriority(s string) Priority {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(s)
	default:
		return PriorityMedium
	}
}

// Task is one schedulable unit of work. Identity fields are immutable after
// creation; the mutable lifecycle fields (status, result, error, timestamps)
// are guarded by the task's own mutex and changed only through the Mark*
// methods, which the executor owns during a run. Dependency sets are owned by
// the enclosing TaskGraph.
type Task struct {
	ID          string
	Name        string
	Description string
	Priority    Priority

	// Oracle, when set, binds this task to its own reasoning backend and
	// takes precedence over the executor-bound oracle.
	Oracle oracle.Oracle

	// Metadata carries planner annotations such as complexity.
	Metadata map[string]any

	CreatedAt time.Time

	// dependsOn and dependents are maintained by TaskGraph.AddDependency.
	dependsOn  map[string]struct{}
	dependents map[string]struct{}

	mu          sync.RWMutex
	status      Status
	result      any
	errMsg      string
	startedAt   *time.Time
	completedAt *time.Time
}

// NewTask creates a pending task with a fresh UUID.
func NewTask(name, description string) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Priority:    PriorityMedium,
		Metadata:    make(map[string]any),
		CreatedAt:   time.Now(),
		dependsOn:   make(map[string]struct{}),
		dependents:  make(map[string]struct{}),
		status:      StatusPending,
	}
}

// WithID overrides the generated id. Intended for callers that manage their
// own id space; must be set before the task joins a graph.
func (t *Task) WithID(id string) *Task {
	t.ID = id
	return t
}

// WithPriority sets the scheduling priority.
func (t *Task) WithPriority(p Priority) *Task {
	t.Priority = p
	return t
}

// WithOracle binds a task-level oracle.
func (t *Task) WithOracle(o oracle.Oracle) *Task {
	t.Oracle = o
	return t
}

// Status returns the current lifecycle state.
func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Result returns the value attached on completion, if any.
func (t *Task) Result() any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.result
}

// Err returns the captured fault text, empty unless the task failed.
func (t *Task) Err() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.errMsg
}

// StartedAt returns when execution began, nil if never started.
func (t *Task) StartedAt() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startedAt
}

// CompletedAt returns when the task reached a terminal state.
func (t *Task) CompletedAt() *time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.completedAt
}

// MarkStarted transitions the task to in_progress.
func (t *Task) MarkStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.status = StatusInProgress
	t.startedAt = &now
}

// MarkCompleted transitions the task to completed with its result attached.
func (t *Task) MarkCompleted(result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.status = StatusCompleted
	t.result = result
	t.completedAt = &now
}

// MarkFailed transitions the task to failed, capturing the fault text.
func (t *Task) MarkFailed(errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.status = StatusFailed
	t.errMsg = errMsg
	t.completedAt = &now
}

// MarkCancelled transitions the task to cancelled.
func (t *Task) MarkCancelled() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	t.status = StatusCancelled
	t.completedAt = &now
}

// MarkBlocked records that a dependency failed. The scheduler never assigns
// this state on its own; it is descriptive, set by callers that want the
// stall to be visible.
func (t *Task) MarkBlocked() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusBlocked
}

// ResetForRetry returns a failed task to pending so a refinement pass can run
// the same graph again. Completed tasks are left untouched.
func (t *Task) ResetForRetry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusFailed {
		return
	}
	t.status = StatusPending
	t.errMsg = ""
	t.startedAt = nil
	t.completedAt = nil
}

// DependsOn lists the ids of this task's dependencies.
func (t *Task) DependsOn() []string {
	ids := make([]string, 0, len(t.dependsOn))
	for id := range t.dependsOn {
		ids = append(ids, id)
	}
	return ids
}

// Dependents lists the ids of tasks depending on this one.
func (t *Task) Dependents() []string {
	ids := make([]string, 0, len(t.dependents))
	for id := range t.dependents {
		ids = append(ids, id)
	}
	return ids
}

// View is an immutable snapshot of a task for results, APIs, and archives.
type View struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot captures the task's current state.
func (t *Task) Snapshot() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return View{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Status:      t.status,
		Priority:    t.Priority,
		DependsOn:   t.DependsOn(),
		Result:      t.result,
		Error:       t.errMsg,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.startedAt,
		CompletedAt: t.completedAt,
	}
}
