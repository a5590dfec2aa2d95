package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/taskflowhq/taskflow/api"
	"github.com/taskflowhq/taskflow/types"
	"github.com/taskflowhq/taskflow/workflow"
	"go.uber.org/zap"
)

// WorkflowHandler serves the /api/v1/workflows endpoints over a
// workflow.Manager. It remembers the creation goal per instance so a start
// request does not have to repeat it.
type WorkflowHandler struct {
	manager  *workflow.Manager
	logger   *zap.Logger
	defaults workflow.Config

	mu    sync.Mutex
	goals map[string]string
}

// NewWorkflowHandler creates a workflow handler.
func NewWorkflowHandler(manager *workflow.Manager, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		manager:  manager,
		logger:   logger.With(zap.String("component", "workflow_handler")),
		defaults: workflow.DefaultConfig(),
		goals:    make(map[string]string),
	}
}

// WithDefaults replaces the strategy configuration applied to create requests
// that carry none.
func (h *WorkflowHandler) WithDefaults(cfg workflow.Config) *WorkflowHandler {
	h.defaults = cfg
	return h
}

// HandleCreate handles POST /api/v1/workflows.
func (h *WorkflowHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CreateWorkflowRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Type == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "type is required"), h.logger)
		return
	}
	if req.Goal == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "goal is required"), h.logger)
		return
	}

	cfg := h.defaults
	if req.Config != nil {
		cfg = *req.Config
	}

	wf, err := h.manager.CreateWorkflow(req.Type, req.Goal, cfg)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}

	h.mu.Lock()
	h.goals[wf.ID()] = req.Goal
	h.mu.Unlock()

	WriteJSON(w, http.StatusCreated, Response{
		Success: true,
		Data: api.CreateWorkflowResponse{
			WorkflowID: wf.ID(),
			Type:       wf.Type(),
			Status:     wf.Status(),
			Goal:       req.Goal,
		},
		Timestamp: time.Now(),
	})
}

// HandleList handles GET /api/v1/workflows. Optional query parameters:
// status filters on lifecycle state, type on the strategy name.
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var states []workflow.State
	if s := r.URL.Query().Get("status"); s != "" {
		status := workflow.Status(s)
		if !validStatus(status) {
			WriteError(w, types.NewErrorf(types.ErrInvalidRequest, "unknown status %q", s), h.logger)
			return
		}
		states = h.manager.ListByStatus(status)
	} else {
		states = h.manager.List()
	}

	if wtype := r.URL.Query().Get("type"); wtype != "" {
		filtered := states[:0]
		for _, st := range states {
			if st.Type == wtype {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}

	WriteSuccess(w, api.WorkflowList{Workflows: states, Count: len(states)})
}

// HandleGet handles GET /api/v1/workflows/{id}.
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, ok := h.manager.Workflow(id)
	if !ok {
		h.forget(id)
		WriteError(w, types.NewErrorf(types.ErrWorkflowNotFound, "workflow not found: %s", id), h.logger)
		return
	}

	history, err := h.manager.History(id)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}

	WriteSuccess(w, api.WorkflowDetail{
		State:   wf.Snapshot(),
		Goal:    h.goal(id),
		History: history,
	})
}

// HandleStart handles POST /api/v1/workflows/{id}/start. The execution runs
// in the background; progress is observable via GET and the events feed.
func (h *WorkflowHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.StartWorkflowRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	goal := req.Goal
	if goal == "" {
		goal = h.goal(id)
	}
	if goal == "" {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "goal is required"), h.logger)
		return
	}

	if err := h.manager.StartWorkflowAsync(id, goal, req.Vars); err != nil {
		h.writeManagerError(w, err)
		return
	}

	h.logger.Info("workflow started via API",
		zap.String("workflow_id", id),
		zap.String("goal", goal))

	WriteJSON(w, http.StatusAccepted, Response{
		Success:   true,
		Data:      h.snapshot(id),
		Timestamp: time.Now(),
	})
}

// HandlePause handles POST /api/v1/workflows/{id}/pause.
func (h *WorkflowHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.manager.PauseWorkflow)
}

// HandleResume handles POST /api/v1/workflows/{id}/resume.
func (h *WorkflowHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.manager.ResumeWorkflow)
}

// HandleCancel handles POST /api/v1/workflows/{id}/cancel.
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.manager.CancelWorkflow)
}

func (h *WorkflowHandler) lifecycle(w http.ResponseWriter, r *http.Request, op func(string) error) {
	id := r.PathValue("id")
	if err := op(id); err != nil {
		h.writeManagerError(w, err)
		return
	}
	WriteSuccess(w, h.snapshot(id))
}

// writeManagerError converts a manager error into an HTTP error response.
// Manager errors are always *types.Error; anything else maps to internal.
func (h *WorkflowHandler) writeManagerError(w http.ResponseWriter, err error) {
	var terr *types.Error
	if e, ok := err.(*types.Error); ok {
		terr = e
	} else {
		terr = types.NewError(types.ErrInternal, err.Error())
	}
	WriteError(w, terr, h.logger)
}

func (h *WorkflowHandler) snapshot(id string) *workflow.State {
	wf, ok := h.manager.Workflow(id)
	if !ok {
		return nil
	}
	st := wf.Snapshot()
	return &st
}

func (h *WorkflowHandler) goal(id string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.goals[id]
}

// forget drops the remembered goal of an instance the manager no longer
// knows, so the map does not outgrow the manager's own registry.
func (h *WorkflowHandler) forget(id string) {
	h.mu.Lock()
	delete(h.goals, id)
	h.mu.Unlock()
}

func validStatus(s workflow.Status) bool {
	switch s {
	case workflow.StatusPending, workflow.StatusRunning, workflow.StatusPaused,
		workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled:
		return true
	}
	return false
}
