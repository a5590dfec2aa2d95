/*
Package main is the taskflow executable.

# Overview

cmd/taskflow hosts the workflow engine behind an HTTP API. Besides serving,
it runs one-shot workflows, applies database migrations, probes a running
server and reports build information:

	taskflow serve   --config config.yaml
	taskflow run     --goal "..." [--type planning]
	taskflow migrate up | down [--all] | status | version | goto <v> | force <v> | reset
	taskflow health  [--addr http://localhost:8080]
	taskflow version

# Core types

  - Server     — owns the store, the engine and both listeners (API, metrics)
  - Middleware — func(http.Handler) http.Handler, composed with Chain

# Behavior

  - Configuration: defaults, optional YAML file, TASKFLOW_* env overrides
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    MetricsMiddleware, optional OTelTracing, CORS, then RateLimiter,
    APIKeyAuth and JWTAuth only when configured
  - Metrics served on their own port with no middleware; port 0 disables
  - Graceful shutdown: cancel background work, drain listeners, close
    storage, flush telemetry
  - Version, BuildTime and GitCommit are injected with -ldflags
*/
package main
