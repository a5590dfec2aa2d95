package graph

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// TaskGraph holds a set of tasks and the dependency edges between them.
// All structural operations are safe for concurrent use; task lifecycle
// state lives on the tasks themselves.
type TaskGraph struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	logger *zap.Logger
}

// NewTaskGraph creates an empty graph.
func NewTaskGraph(logger *zap.Logger) *TaskGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskGraph{
		tasks:  make(map[string]*Task),
		order:  make([]string, 0),
		logger: logger.With(zap.String("component", "task_graph")),
	}
}

// AddTask registers a task under its id. Re-adding an id replaces the stored
// task but keeps its original insertion position, so tie-breaking between
// equal priorities stays stable across replacement.
func (g *TaskGraph) AddTask(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.dependsOn == nil {
		t.dependsOn = make(map[string]struct{})
	}
	if t.dependents == nil {
		t.dependents = make(map[string]struct{})
	}
	if _, exists := g.tasks[t.ID]; !exists {
		g.order = append(g.order, t.ID)
	}
	g.tasks[t.ID] = t
	g.logger.Debug("task added",
		zap.String("task_id", t.ID),
		zap.String("name", t.Name),
		zap.String("priority", string(t.Priority)))
}

// AddDependency records that task depends on dependsOn. Unknown ids are
// ignored; re-adding an existing edge is a no-op. Cycles are not rejected
// here, ValidateDependencies reports them.
func (g *TaskGraph) AddDependency(taskID, dependsOnID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	task, ok := g.tasks[taskID]
	if !ok {
		return
	}
	dep, ok := g.tasks[dependsOnID]
	if !ok {
		return
	}
	task.dependsOn[dependsOnID] = struct{}{}
	dep.dependents[taskID] = struct{}{}
}

// Task returns the task registered under id.
func (g *TaskGraph) Task(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	return t, ok
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}

// Tasks returns all tasks in insertion order.
func (g *TaskGraph) Tasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// sortForSchedule orders tasks by priority rank, breaking ties by insertion
// order. The sort is stable so equal-priority tasks keep their relative
// positions no matter how often the schedule is recomputed.
func (g *TaskGraph) sortForSchedule(tasks []*Task) {
	pos := make(map[string]int, len(g.order))
	for i, id := range g.order {
		pos[id] = i
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		ri, rj := tasks[i].Priority.rank(), tasks[j].Priority.rank()
		if ri != rj {
			return ri < rj
		}
		return pos[tasks[i].ID] < pos[tasks[j].ID]
	})
}

// ReadyTasks returns the pending tasks whose dependencies are all completed,
// sorted by priority then insertion order. A task with a failed or cancelled
// dependency is not ready and will never become ready.
func (g *TaskGraph) ReadyTasks() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ready := make([]*Task, 0)
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status() != StatusPending {
			continue
		}
		ok := true
		for depID := range t.dependsOn {
			dep, exists := g.tasks[depID]
			if !exists || dep.Status() != StatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	g.sortForSchedule(ready)
	return ready
}

// ExecutionOrder computes the level-by-level schedule from graph structure
// alone, ignoring runtime statuses. Each level holds tasks whose dependencies
// all appear in earlier levels, sorted by priority then insertion order.
// Tasks trapped in a cycle never become schedulable and are silently absent,
// so callers comparing the flattened count against Len can detect cycles.
func (g *TaskGraph) ExecutionOrder() [][]*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	placed := make(map[string]struct{}, len(g.tasks))
	levels := make([][]*Task, 0)
	for len(placed) < len(g.tasks) {
		level := make([]*Task, 0)
		for _, id := range g.order {
			if _, done := placed[id]; done {
				continue
			}
			t := g.tasks[id]
			ok := true
			for depID := range t.dependsOn {
				if _, exists := g.tasks[depID]; !exists {
					continue
				}
				if _, done := placed[depID]; !done {
					ok = false
					break
				}
			}
			if ok {
				level = append(level, t)
			}
		}
		if len(level) == 0 {
			break
		}
		g.sortForSchedule(level)
		for _, t := range level {
			placed[t.ID] = struct{}{}
		}
		levels = append(levels, level)
	}
	return levels
}

// ValidateDependencies checks the graph for structural problems and returns
// one diagnostic per finding: a cycle report for each cycle reached by the
// traversal, and a dangling-reference report for each edge pointing at an
// unknown task id. An empty slice means the graph is executable.
func (g *TaskGraph) ValidateDependencies() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	issues := make([]string, 0)

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		t := g.tasks[id]
		for depID := range t.dependsOn {
			if _, exists := g.tasks[depID]; !exists {
				continue
			}
			switch color[depID] {
			case gray:
				return true
			case white:
				if visit(depID) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			issues = append(issues,
				fmt.Sprintf("circular dependency detected involving task: %s", g.tasks[id].Name))
		}
	}

	for _, id := range g.order {
		t := g.tasks[id]
		for depID := range t.dependsOn {
			if _, exists := g.tasks[depID]; !exists {
				issues = append(issues,
					fmt.Sprintf("task %s depends on non-existent task: %s", t.Name, depID))
			}
		}
	}
	return issues
}

// Stats summarizes the graph by lifecycle state.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// Stats counts tasks per status.
func (g *TaskGraph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		Total:    len(g.tasks),
		ByStatus: make(map[Status]int, 6),
	}
	for _, t := range g.tasks {
		s.ByStatus[t.Status()]++
	}
	return s
}

// Progress returns the percentage of tasks completed, 0 for an empty graph.
func (g *TaskGraph) Progress() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.tasks) == 0 {
		return 0
	}
	completed := 0
	for _, t := range g.tasks {
		if t.Status() == StatusCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(g.tasks)) * 100
}

// Snapshot captures every task's current state in insertion order.
func (g *TaskGraph) Snapshot() []View {
	g.mu.RLock()
	defer g.mu.RUnlock()
	views := make([]View, 0, len(g.order))
	for _, id := range g.order {
		views = append(views, g.tasks[id].Snapshot())
	}
	return views
}
