// Package taskflow provides a one-call entry point for assembling the
// workflow engine with minimal boilerplate.
//
// Usage:
//
//	import "github.com/taskflowhq/taskflow"
//
//	eng := taskflow.New(taskflow.WithOracle(myOracle))
//	eng := taskflow.New(append(taskflow.FromConfig(cfg), taskflow.WithOracle(myOracle))...)
//
// New returns an Engine whose Manager has every built-in strategy
// registered and the oracle pipeline (per-call timeout, rate limiting,
// response caching) applied per the options. Without an oracle the
// strategies run with their deterministic fallbacks.
package taskflow

import (
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/config"
	"github.com/taskflowhq/taskflow/internal/cache"
	"github.com/taskflowhq/taskflow/internal/metrics"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/prompt"
	"github.com/taskflowhq/taskflow/store"
	"github.com/taskflowhq/taskflow/workflow"
)

// Engine bundles the assembled manager with the resources built for it.
type Engine struct {
	manager *workflow.Manager
	cache   *cache.Manager
}

// Manager returns the assembled workflow manager.
func (e *Engine) Manager() *workflow.Manager { return e.manager }

// Cache returns the response cache built for the oracle, nil when caching
// is disabled or unavailable.
func (e *Engine) Cache() *cache.Manager { return e.cache }

// Close releases the resources the engine owns. Stores and metrics passed
// in through options stay with their owners.
func (e *Engine) Close() error {
	if e.cache != nil {
		return e.cache.Close()
	}
	return nil
}

// Option configures the engine assembled by New.
type Option func(*options)

type options struct {
	oracle        oracle.Oracle
	logger        *zap.Logger
	archive       store.Store
	prompts       *prompt.Registry
	collector     *metrics.Collector
	waitTimeout   time.Duration
	maxConcurrent int
	callTimeout   time.Duration
	rateRPS       float64
	rateBurst     int
	cacheRedis    *config.RedisConfig
	cacheTTL      time.Duration
	counter       *oracle.TokenCounter
}

// WithOracle sets the completion backend.
func WithOracle(o oracle.Oracle) Option {
	return func(opts *options) { opts.oracle = o }
}

// WithLogger sets the logger shared by the manager and the oracle pipeline.
// Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// WithStore attaches a run archive to the manager.
func WithStore(s store.Store) Option {
	return func(opts *options) { opts.archive = s }
}

// WithPrompts replaces the prompt template registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(opts *options) { opts.prompts = r }
}

// WithMetrics attaches a metrics collector to the manager.
func WithMetrics(c *metrics.Collector) Option {
	return func(opts *options) { opts.collector = c }
}

// WithDefaultTimeout sets the manager's completion-wait timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(opts *options) { opts.waitTimeout = d }
}

// WithMaxConcurrent sets the advisory ceiling on background workflows.
func WithMaxConcurrent(n int) Option {
	return func(opts *options) { opts.maxConcurrent = n }
}

// WithCallTimeout bounds a single oracle completion call.
func WithCallTimeout(d time.Duration) Option {
	return func(opts *options) { opts.callTimeout = d }
}

// WithRateLimit caps oracle calls per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(opts *options) {
		opts.rateRPS = rps
		opts.rateBurst = burst
	}
}

// WithResponseCache enables Redis-backed caching of oracle responses. A
// zero ttl uses the cache default. When Redis is unreachable the engine
// logs a warning and runs without the cache.
func WithResponseCache(rc config.RedisConfig, ttl time.Duration) Option {
	return func(opts *options) {
		opts.cacheRedis = &rc
		opts.cacheTTL = ttl
	}
}

// WithTokenBudget attaches a token counter that keeps planner prompts
// inside the given budget. An empty encoding uses the default.
func WithTokenBudget(encoding string, budget int) Option {
	return func(opts *options) {
		opts.counter = oracle.NewTokenCounter(encoding, budget)
	}
}

// FromConfig derives engine options from a loaded configuration: manager
// limits, oracle decorations and the planner token budget. Compose the
// result with WithOracle and WithLogger, which have no configuration
// representation.
func FromConfig(cfg *config.Config) []Option {
	opts := []Option{
		WithDefaultTimeout(cfg.Manager.DefaultTimeout),
		WithMaxConcurrent(cfg.Manager.MaxConcurrent),
	}
	if cfg.Oracle.Timeout > 0 {
		opts = append(opts, WithCallTimeout(cfg.Oracle.Timeout))
	}
	if cfg.Oracle.RateLimitRPS > 0 {
		opts = append(opts, WithRateLimit(cfg.Oracle.RateLimitRPS, cfg.Oracle.RateLimitBurst))
	}
	if cfg.Oracle.CacheEnabled {
		opts = append(opts, WithResponseCache(cfg.Redis, cfg.Oracle.CacheTTL))
	}
	if cfg.Oracle.TokenBudget > 0 {
		opts = append(opts, WithTokenBudget(cfg.Oracle.TokenEncoding, cfg.Oracle.TokenBudget))
	}
	return opts
}

// New assembles an engine: the oracle pipeline is built innermost-first
// (timeout, rate limit, cache) so a cache hit never burns rate budget, and
// the manager is created with every built-in strategy registered.
func New(opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	eng := &Engine{}

	completion := o.oracle
	if completion == nil {
		logger.Info("no oracle configured, workflow strategies use their fallbacks")
	} else {
		if o.callTimeout > 0 {
			completion = oracle.NewTimeLimited(completion, o.callTimeout)
		}
		if o.rateRPS > 0 {
			completion = oracle.NewRateLimited(completion, o.rateRPS, o.rateBurst, logger)
		}
		if o.cacheRedis != nil {
			cm, err := cache.NewManager(cache.FromRedisConfig(*o.cacheRedis, o.cacheTTL), logger)
			if err != nil {
				logger.Warn("response cache unavailable, oracle calls go direct", zap.Error(err))
			} else {
				eng.cache = cm
				completion = oracle.NewCached(completion, cm, o.cacheTTL, logger)
			}
		}
	}

	m := workflow.NewManager(completion, logger).RegisterDefaults()
	if o.prompts != nil {
		m.WithPrompts(o.prompts)
	}
	if o.archive != nil {
		m.WithStore(o.archive)
	}
	if o.collector != nil {
		m.WithMetrics(o.collector)
	}
	if o.waitTimeout > 0 {
		m.WithDefaultTimeout(o.waitTimeout)
	}
	if o.maxConcurrent > 0 {
		m.WithMaxConcurrent(o.maxConcurrent)
	}
	if o.counter != nil {
		m.WithTokenCounter(o.counter)
	}

	eng.manager = m
	return eng
}
