package api

import (
	"time"

	"github.com/taskflowhq/taskflow/graph"
	"github.com/taskflowhq/taskflow/workflow"
)

// CreateWorkflowRequest creates a new workflow instance. Config overrides the
// strategy defaults when present.
type CreateWorkflowRequest struct {
	// Workflow type (planning, sequential, interactive, code_execute, human_loop)
	Type string `json:"type"`
	// Goal the workflow works toward; validated against the chosen strategy
	Goal string `json:"goal"`
	// Optional per-strategy configuration
	Config *workflow.Config `json:"config,omitempty"`
}

// CreateWorkflowResponse acknowledges a created workflow.
type CreateWorkflowResponse struct {
	WorkflowID string          `json:"workflow_id"`
	Type       string          `json:"workflow_type"`
	Status     workflow.Status `json:"status"`
	Goal       string          `json:"goal"`
}

// StartWorkflowRequest starts an execution. Goal falls back to the one given
// at creation when empty; Vars are passed to the strategy as-is.
type StartWorkflowRequest struct {
	Goal string         `json:"goal,omitempty"`
	Vars map[string]any `json:"vars,omitempty"`
}

// WorkflowList is the response of the list endpoint.
type WorkflowList struct {
	Workflows []workflow.State `json:"workflows"`
	Count     int              `json:"count"`
}

// WorkflowDetail is the response of the detail endpoint: the live snapshot
// plus the creation goal and the per-instance execution history.
type WorkflowDetail struct {
	workflow.State
	Goal    string                  `json:"goal,omitempty"`
	History []workflow.HistoryEntry `json:"history,omitempty"`
}

// Event types emitted on the websocket feed.
const (
	EventWorkflowStarted   = "workflow.started"
	EventTaskCompleted     = "task.completed"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
)

// Event is one frame on the /events websocket. Exactly one of Task, Result
// and Error is set, depending on Type.
type Event struct {
	Type       string           `json:"type"`
	WorkflowID string           `json:"workflow_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Task       *graph.View      `json:"task,omitempty"`
	Result     *workflow.Result `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}
