// Package api defines the wire types of the taskflow HTTP API.
//
// The REST surface lives under /api/v1:
//
//	POST /api/v1/workflows                 create a workflow instance
//	GET  /api/v1/workflows                 list instances (?status=, ?type=)
//	GET  /api/v1/workflows/{id}            snapshot + history of one instance
//	POST /api/v1/workflows/{id}/start      start an execution (async)
//	POST /api/v1/workflows/{id}/pause      pause a running execution
//	POST /api/v1/workflows/{id}/resume     resume a paused execution
//	POST /api/v1/workflows/{id}/cancel     cancel an execution
//	GET  /api/v1/events                    websocket feed of lifecycle events
//
// Every response is wrapped in the handlers.Response envelope. The request
// handlers themselves live in the handlers subpackage; routes are mounted by
// cmd/taskflow.
package api
