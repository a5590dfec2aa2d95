// Package metrics provides Prometheus metrics for the engine: workflow and
// task outcomes, oracle usage, store operations and the HTTP surface.
// Metrics register through promauto under a caller-chosen namespace.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// DefaultNamespace prefixes every metric emitted by the engine.
const DefaultNamespace = "taskflow"

// Collector registers and records the engine's Prometheus metrics.
type Collector struct {
	// workflow metrics
	workflowsCreated  *prometheus.CounterVec
	workflowsFinished *prometheus.CounterVec
	workflowDuration  *prometheus.HistogramVec
	activeWorkflows   prometheus.Gauge

	// task metrics
	tasksFinished *prometheus.CounterVec

	// oracle metrics
	oracleRequests *prometheus.CounterVec
	oracleDuration *prometheus.HistogramVec
	oracleTokens   *prometheus.CounterVec

	// store metrics
	storeOpDuration *prometheus.HistogramVec
	storeErrors     *prometheus.CounterVec

	// http metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector whose metrics live under the given
// namespace. Metrics are registered with the default registry; use one
// collector per process (or distinct namespaces in tests).
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.workflowsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_created_total",
			Help:      "Total number of workflows created",
		},
		[]string{"workflow_type"},
	)

	c.workflowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflow executions by final status",
		},
		[]string{"workflow_type", "status"},
	)

	c.workflowDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"workflow_type"},
	)

	c.activeWorkflows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workflows",
			Help:      "Number of workflows currently running in the background",
		},
	)

	c.tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks reaching a terminal status",
		},
		[]string{"status"},
	)

	c.oracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      "Total number of oracle completions",
		},
		[]string{"oracle", "status"},
	)

	c.oracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      "Oracle completion duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"oracle"},
	)

	c.oracleTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Total tokens reported by oracle responses",
		},
		[]string{"oracle"},
	)

	c.storeOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_op_duration_seconds",
			Help:      "Run store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	c.storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of failed run store operations",
		},
		[]string{"backend", "operation"},
	)

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// WorkflowCreated counts a newly created workflow instance.
func (c *Collector) WorkflowCreated(workflowType string) {
	c.workflowsCreated.WithLabelValues(workflowType).Inc()
}

// WorkflowFinished records one finished workflow execution.
func (c *Collector) WorkflowFinished(workflowType, status string, duration time.Duration) {
	c.workflowsFinished.WithLabelValues(workflowType, status).Inc()
	c.workflowDuration.WithLabelValues(workflowType).Observe(duration.Seconds())
}

// SetActiveWorkflows updates the background-run gauge.
func (c *Collector) SetActiveWorkflows(n int) {
	c.activeWorkflows.Set(float64(n))
}

// TaskFinished counts a task reaching a terminal status.
func (c *Collector) TaskFinished(status string) {
	c.tasksFinished.WithLabelValues(status).Inc()
}

// RecordOracleRequest records one oracle completion.
func (c *Collector) RecordOracleRequest(oracle, status string, duration time.Duration, tokens int) {
	c.oracleRequests.WithLabelValues(oracle, status).Inc()
	c.oracleDuration.WithLabelValues(oracle).Observe(duration.Seconds())
	if tokens > 0 {
		c.oracleTokens.WithLabelValues(oracle).Add(float64(tokens))
	}
}

// RecordStoreOp records a run store operation.
func (c *Collector) RecordStoreOp(backend, operation string, duration time.Duration) {
	c.storeOpDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordStoreError counts a failed run store operation.
func (c *Collector) RecordStoreError(backend, operation string) {
	c.storeErrors.WithLabelValues(backend, operation).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// statusClass folds an HTTP status code into its class label.
func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
