package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskflowhq/taskflow/api"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/workflow"
	"go.uber.org/zap"
)

// gateOracle blocks completions until release is closed, so tests can hold
// a workflow mid-run while exercising pause and resume over HTTP.
type gateOracle struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newGateOracle() *gateOracle {
	return &gateOracle{release: make(chan struct{}), started: make(chan struct{})}
}

func (g *gateOracle) Name() string { return "gate" }

func (g *gateOracle) Complete(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return &oracle.Response{Content: "done"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func instantOracle() oracle.Oracle {
	return oracle.Func("instant", func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
		return &oracle.Response{Content: "done"}, nil
	})
}

// newWorkflowServer builds a handler over a fresh manager and mounts it the
// way cmd/taskflow does.
func newWorkflowServer(t *testing.T, o oracle.Oracle) (*httptest.Server, *WorkflowHandler, *workflow.Manager) {
	t.Helper()
	m := workflow.NewManager(o, zap.NewNop()).RegisterDefaults()
	h := NewWorkflowHandler(m, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/workflows", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/workflows", h.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/workflows/{id}/start", h.HandleStart)
	mux.HandleFunc("POST /api/v1/workflows/{id}/pause", h.HandlePause)
	mux.HandleFunc("POST /api/v1/workflows/{id}/resume", h.HandleResume)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", h.HandleCancel)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, h, m
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response, data any) Response {
	t.Helper()
	defer resp.Body.Close()

	var raw struct {
		Success   bool            `json:"success"`
		Data      json.RawMessage `json:"data"`
		Error     *ErrorInfo      `json:"error"`
		Timestamp time.Time       `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return Response{Success: raw.Success, Error: raw.Error, Timestamp: raw.Timestamp}
}

func twoStepRequest(goal string) api.CreateWorkflowRequest {
	cfg := workflow.DefaultConfig()
	cfg.Sequential.Steps = []workflow.Step{
		{Name: "first", Description: "do the first thing"},
		{Name: "second", Description: "do the second thing"},
	}
	return api.CreateWorkflowRequest{Type: workflow.TypeSequential, Goal: goal, Config: &cfg}
}

func createWorkflow(t *testing.T, srv *httptest.Server, req api.CreateWorkflowRequest) api.CreateWorkflowResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/v1/workflows", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created api.CreateWorkflowResponse
	env := decodeEnvelope(t, resp, &created)
	require.True(t, env.Success)
	require.NotEmpty(t, created.WorkflowID)
	return created
}

func TestHandleCreate(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	created := createWorkflow(t, srv, twoStepRequest("ship the release"))
	assert.Equal(t, workflow.TypeSequential, created.Type)
	assert.Equal(t, workflow.StatusPending, created.Status)
	assert.Equal(t, "ship the release", created.Goal)
}

func TestHandleCreateValidation(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	tests := []struct {
		name       string
		req        api.CreateWorkflowRequest
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing type",
			req:        api.CreateWorkflowRequest{Goal: "a goal"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "missing goal",
			req:        api.CreateWorkflowRequest{Type: workflow.TypeSequential},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "unknown type",
			req:        api.CreateWorkflowRequest{Type: "nope", Goal: "a goal"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "UNKNOWN_WORKFLOW_TYPE",
		},
		{
			name: "goal rejected",
			// sequential with no steps rejects every goal
			req:        api.CreateWorkflowRequest{Type: workflow.TypeSequential, Goal: "a goal"},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "GOAL_REJECTED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/workflows", tt.req)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			env := decodeEnvelope(t, resp, nil)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestHandleCreateRejectsNonJSON(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	resp, err := http.Post(srv.URL+"/api/v1/workflows", "text/plain", bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLifecycleOverHTTP(t *testing.T) {
	gate := newGateOracle()
	srv, _, m := newWorkflowServer(t, gate)

	created := createWorkflow(t, srv, twoStepRequest("walk the steps"))
	base := srv.URL + "/api/v1/workflows/" + created.WorkflowID

	// Start with an empty body: the creation goal carries over.
	resp := postJSON(t, base+"/start", nil)
	var started workflow.State
	env := decodeEnvelope(t, resp, &started)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.True(t, env.Success)

	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow never reached the oracle")
	}

	// Pause, observe, resume.
	resp = postJSON(t, base+"/pause", nil)
	var paused workflow.State
	decodeEnvelope(t, resp, &paused)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workflow.StatusPaused, paused.Status)

	resp = postJSON(t, base+"/resume", nil)
	var resumed workflow.State
	decodeEnvelope(t, resp, &resumed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, workflow.StatusRunning, resumed.Status)

	close(gate.release)

	res, err := m.WaitForCompletion(context.Background(), created.WorkflowID, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Success)

	// Detail shows the terminal snapshot, the creation goal and one history
	// entry.
	getResp, err := http.Get(base)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	var detail api.WorkflowDetail
	decodeEnvelope(t, getResp, &detail)
	assert.Equal(t, workflow.StatusCompleted, detail.Status)
	assert.Equal(t, "walk the steps", detail.Goal)
	require.Len(t, detail.History, 1)
	assert.Equal(t, "walk the steps", detail.History[0].Goal)
}

func TestHandleStartGoalOverride(t *testing.T) {
	srv, _, m := newWorkflowServer(t, instantOracle())

	created := createWorkflow(t, srv, twoStepRequest("original goal"))

	resp := postJSON(t, srv.URL+"/api/v1/workflows/"+created.WorkflowID+"/start",
		api.StartWorkflowRequest{Goal: "override goal"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	decodeEnvelope(t, resp, nil)

	_, err := m.WaitForCompletion(context.Background(), created.WorkflowID, 5*time.Second)
	require.NoError(t, err)

	history, err := m.History(created.WorkflowID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "override goal", history[0].Goal)
}

func TestHandleStartWithoutGoal(t *testing.T) {
	srv, h, m := newWorkflowServer(t, instantOracle())

	// Created outside the handler, so no creation goal is remembered.
	cfg := workflow.DefaultConfig()
	cfg.Sequential.Steps = []workflow.Step{{Name: "only", Description: "one step"}}
	wf, err := m.CreateWorkflow(workflow.TypeSequential, "side door", cfg)
	require.NoError(t, err)
	assert.Empty(t, h.goal(wf.ID()))

	resp := postJSON(t, srv.URL+"/api/v1/workflows/"+wf.ID()+"/start", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	env := decodeEnvelope(t, resp, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)
}

func TestHandleStartUnknownWorkflow(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	resp := postJSON(t, srv.URL+"/api/v1/workflows/ghost/start",
		api.StartWorkflowRequest{Goal: "anything"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env := decodeEnvelope(t, resp, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", env.Error.Code)
}

func TestHandleCancel(t *testing.T) {
	gate := newGateOracle()
	srv, _, m := newWorkflowServer(t, gate)

	created := createWorkflow(t, srv, twoStepRequest("cancel me"))
	base := srv.URL + "/api/v1/workflows/" + created.WorkflowID

	resp := postJSON(t, base+"/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	decodeEnvelope(t, resp, nil)

	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("workflow never reached the oracle")
	}

	resp = postJSON(t, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st workflow.State
	decodeEnvelope(t, resp, &st)
	assert.Equal(t, workflow.StatusCancelled, st.Status)

	assert.Eventually(t, func() bool {
		wf, ok := m.Workflow(created.WorkflowID)
		return ok && wf.Status().Terminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHandleList(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	first := createWorkflow(t, srv, twoStepRequest("first goal"))
	second := createWorkflow(t, srv, twoStepRequest("second goal"))

	t.Run("all", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/workflows")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var list api.WorkflowList
		decodeEnvelope(t, resp, &list)
		assert.Equal(t, 2, list.Count)
		require.Len(t, list.Workflows, 2)
		// oldest first
		assert.Equal(t, first.WorkflowID, list.Workflows[0].ID)
		assert.Equal(t, second.WorkflowID, list.Workflows[1].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/workflows?status=pending")
		require.NoError(t, err)
		var list api.WorkflowList
		decodeEnvelope(t, resp, &list)
		assert.Equal(t, 2, list.Count)

		resp, err = http.Get(srv.URL + "/api/v1/workflows?status=completed")
		require.NoError(t, err)
		decodeEnvelope(t, resp, &list)
		assert.Equal(t, 0, list.Count)
	})

	t.Run("invalid status", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/workflows?status=bogus")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("type filter", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/v1/workflows?type=" + workflow.TypeSequential)
		require.NoError(t, err)
		var list api.WorkflowList
		decodeEnvelope(t, resp, &list)
		assert.Equal(t, 2, list.Count)

		resp, err = http.Get(srv.URL + "/api/v1/workflows?type=planning")
		require.NoError(t, err)
		decodeEnvelope(t, resp, &list)
		assert.Equal(t, 0, list.Count)
	})
}

func TestHandleGetUnknownWorkflow(t *testing.T) {
	srv, _, _ := newWorkflowServer(t, instantOracle())

	resp, err := http.Get(srv.URL + "/api/v1/workflows/ghost")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGoalMapPrunedAfterCleanup(t *testing.T) {
	srv, h, m := newWorkflowServer(t, instantOracle())

	created := createWorkflow(t, srv, twoStepRequest("short lived"))
	base := srv.URL + "/api/v1/workflows/" + created.WorkflowID

	resp := postJSON(t, base+"/start", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	decodeEnvelope(t, resp, nil)

	_, err := m.WaitForCompletion(context.Background(), created.WorkflowID, 5*time.Second)
	require.NoError(t, err)

	require.Equal(t, 1, m.CleanupCompleted(0))

	getResp, err := http.Get(base)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
	assert.Empty(t, h.goal(created.WorkflowID))
}

func TestConcurrentCreates(t *testing.T) {
	srv, _, m := newWorkflowServer(t, instantOracle())

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			var buf bytes.Buffer
			if err := json.NewEncoder(&buf).Encode(twoStepRequest(fmt.Sprintf("goal %d", i))); err != nil {
				errs <- err
				return
			}
			resp, err := http.Post(srv.URL+"/api/v1/workflows", "application/json", &buf)
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				errs <- fmt.Errorf("unexpected status %d", resp.StatusCode)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Len(t, m.List(), n)
}
