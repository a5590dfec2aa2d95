package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/taskflowhq/taskflow/oracle"
)

// Mode selects the scheduling policy for a run.
type Mode string

const (
	// ModeSequential runs ready tasks one at a time.
	ModeSequential Mode = "sequential"
	// ModeParallel runs ready tasks in capped concurrent batches.
	ModeParallel Mode = "parallel"
	// ModeAdaptive runs capped batches and resizes the cap from batch
	// outcomes: halved after a batch with failures, doubled after a clean
	// one, always within [1, max parallel].
	ModeAdaptive Mode = "adaptive"
)

// ParseMode normalizes a free-form mode string, defaulting to sequential.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeSequential, ModeParallel, ModeAdaptive:
		return Mode(s)
	default:
		return ModeSequential
	}
}

// DefaultMaxParallel caps concurrent tasks per batch.
const DefaultMaxParallel = 3

// TaskError pairs a failed task with its captured fault text.
type TaskError struct {
	TaskID   string `json:"task_id"`
	TaskName string `json:"task_name"`
	Err      string `json:"error"`
}

// Summary reports the outcome of an ExecutePlan run.
type Summary struct {
	Total     int           `json:"total"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Errors    []TaskError   `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether every task in the graph completed.
func (s *Summary) Succeeded() bool {
	return s.Failed == 0 && s.Completed == s.Total
}

// RunContext carries per-run inputs into task execution: template variables
// for prompts and a fallback oracle used when neither the task nor the
// executor binds one.
type RunContext struct {
	Vars     map[string]any
	Fallback oracle.Oracle
}

// Executor drives a TaskGraph to completion under a scheduling mode. Task
// faults are captured on the task and never abort the run; the only error
// ExecutePlan returns is context cancellation.
type Executor struct {
	oracle      oracle.Oracle
	mode        Mode
	maxParallel int
	logger      *zap.Logger
	tracer      trace.Tracer
	onTaskDone  func(*Task)
}

// NewExecutor creates a sequential executor with the default parallelism cap.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		mode:        ModeSequential,
		maxParallel: DefaultMaxParallel,
		logger:      logger.With(zap.String("component", "executor")),
		tracer:      otel.Tracer("taskflow/graph"),
	}
}

// WithOracle binds the executor-level oracle, used when a task has none.
func (e *Executor) WithOracle(o oracle.Oracle) *Executor {
	e.oracle = o
	return e
}

// WithMode sets the scheduling mode.
func (e *Executor) WithMode(m Mode) *Executor {
	e.mode = m
	return e
}

// WithMaxParallel sets the batch cap; values below 1 are ignored.
func (e *Executor) WithMaxParallel(n int) *Executor {
	if n >= 1 {
		e.maxParallel = n
	}
	return e
}

// OnTaskDone installs a hook invoked after each task reaches a terminal
// state. In parallel modes it is called from multiple goroutines and must be
// safe for concurrent use.
func (e *Executor) OnTaskDone(fn func(*Task)) *Executor {
	e.onTaskDone = fn
	return e
}

// ExecutePlan runs the graph until no task is ready. It returns a summary of
// the run and an error only when ctx is cancelled; task failures are recorded
// in the summary, not returned. A graph whose remaining tasks can never
// become ready (failed dependencies, cycles) stops without error.
func (e *Executor) ExecutePlan(ctx context.Context, g *TaskGraph, rc *RunContext) (*Summary, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "graph.execute_plan", trace.WithAttributes(
		attribute.String("mode", string(e.mode)),
		attribute.Int("tasks", g.Len()),
	))
	defer span.End()

	window := e.maxParallel
	for {
		if err := ctx.Err(); err != nil {
			return e.summarize(g, start), err
		}
		ready := g.ReadyTasks()
		if len(ready) == 0 {
			break
		}

		switch e.mode {
		case ModeParallel:
			e.runBatch(ctx, ready[:min(e.maxParallel, len(ready))], rc)
		case ModeAdaptive:
			batch := ready[:min(window, len(ready))]
			e.runBatch(ctx, batch, rc)
			if batchFailed(batch) {
				window = max(1, window/2)
			} else {
				window = min(e.maxParallel, window*2)
			}
		default:
			for _, t := range ready {
				if ctx.Err() != nil {
					break
				}
				e.executeTask(ctx, t, rc)
			}
		}
	}

	summary := e.summarize(g, start)
	span.SetAttributes(
		attribute.Int("completed", summary.Completed),
		attribute.Int("failed", summary.Failed),
	)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Completed+summary.Failed < summary.Total {
		e.logger.Warn("graph stalled before all tasks ran",
			zap.Int("total", summary.Total),
			zap.Int("completed", summary.Completed),
			zap.Int("failed", summary.Failed))
	}
	return summary, nil
}

// runBatch executes a batch concurrently. Goroutines always return nil so
// the group collects every outcome instead of aborting on the first fault.
func (e *Executor) runBatch(ctx context.Context, batch []*Task, rc *RunContext) {
	grp, gctx := errgroup.WithContext(ctx)
	for _, t := range batch {
		t := t
		grp.Go(func() error {
			e.executeTask(gctx, t, rc)
			return nil
		})
	}
	_ = grp.Wait()
}

func batchFailed(batch []*Task) bool {
	for _, t := range batch {
		if t.Status() == StatusFailed {
			return true
		}
	}
	return false
}

// executeTask runs one task through its resolved oracle. Panics and errors
// become task failures; an interrupted task is marked cancelled.
func (e *Executor) executeTask(ctx context.Context, t *Task, rc *RunContext) {
	ctx, span := e.tracer.Start(ctx, "graph.execute_task", trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.name", t.Name),
		attribute.String("task.priority", string(t.Priority)),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			t.MarkFailed(fmt.Sprintf("panic: %v", r))
			e.logger.Error("task panicked",
				zap.String("task_id", t.ID),
				zap.String("task_name", t.Name),
				zap.Any("panic", r))
		}
		span.SetAttributes(attribute.String("task.status", string(t.Status())))
		if e.onTaskDone != nil {
			e.onTaskDone(t)
		}
	}()

	t.MarkStarted()
	e.logger.Debug("task started",
		zap.String("task_id", t.ID),
		zap.String("task_name", t.Name))

	o := e.resolveOracle(t, rc)
	if o == nil {
		t.MarkCompleted(fmt.Sprintf("task %q completed with no oracle attached", t.Name))
		return
	}

	resp, err := o.Complete(ctx, oracle.Request{
		Prompt: taskPrompt(t),
		Vars:   mergeVars(rc, t),
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			t.MarkCancelled()
			return
		}
		t.MarkFailed(err.Error())
		e.logger.Warn("task failed",
			zap.String("task_id", t.ID),
			zap.String("task_name", t.Name),
			zap.Error(err))
		return
	}
	t.MarkCompleted(resp.Content)
	e.logger.Debug("task completed", zap.String("task_id", t.ID))
}

// resolveOracle picks the oracle for a task: task-bound first, then the
// executor's, then the run context's fallback. Nil means run as a no-op.
func (e *Executor) resolveOracle(t *Task, rc *RunContext) oracle.Oracle {
	if t.Oracle != nil {
		return t.Oracle
	}
	if e.oracle != nil {
		return e.oracle
	}
	if rc != nil && rc.Fallback != nil {
		return rc.Fallback
	}
	return nil
}

func taskPrompt(t *Task) string {
	if t.Description != "" {
		return t.Description
	}
	return t.Name
}

func mergeVars(rc *RunContext, t *Task) map[string]any {
	vars := make(map[string]any)
	if rc != nil {
		for k, v := range rc.Vars {
			vars[k] = v
		}
	}
	for k, v := range t.Metadata {
		vars[k] = v
	}
	vars["task_name"] = t.Name
	return vars
}

func (e *Executor) summarize(g *TaskGraph, start time.Time) *Summary {
	stats := g.Stats()
	s := &Summary{
		Total:     stats.Total,
		Completed: stats.ByStatus[StatusCompleted],
		Failed:    stats.ByStatus[StatusFailed],
		Duration:  time.Since(start),
	}
	for _, t := range g.Tasks() {
		if t.Status() == StatusFailed {
			s.Errors = append(s.Errors, TaskError{TaskID: t.ID, TaskName: t.Name, Err: t.Err()})
		}
	}
	return s
}
