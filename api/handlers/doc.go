/*
Package handlers implements the request handlers of the taskflow HTTP API:
workflow lifecycle over a workflow.Manager, health and readiness probes, and
the websocket event feed.

# Core types

  - WorkflowHandler — create/list/get plus start/pause/resume/cancel actions
  - EventsHandler   — websocket fan-out of manager lifecycle callbacks
  - HealthHandler   — /health, /healthz, /ready with pluggable checks
  - Response        — uniform JSON envelope (success + data + error + timestamp)
  - ErrorInfo       — structured error body with code and retryable flag
  - ResponseWriter  — status-capturing http.ResponseWriter wrapper for middleware

Handlers follow plain net/http. Error codes map to HTTP statuses in one
place (mapErrorCodeToHTTPStatus); request bodies are decoded in strict mode
with a 1 MB cap. Routes are mounted by cmd/taskflow using method-qualified
ServeMux patterns, so handlers read path parameters via r.PathValue.
*/
package handlers
