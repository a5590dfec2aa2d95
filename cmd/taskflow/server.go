package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow"
	"github.com/taskflowhq/taskflow/api/handlers"
	"github.com/taskflowhq/taskflow/config"
	"github.com/taskflowhq/taskflow/internal/database"
	"github.com/taskflowhq/taskflow/internal/metrics"
	"github.com/taskflowhq/taskflow/internal/server"
	"github.com/taskflowhq/taskflow/internal/telemetry"
	"github.com/taskflowhq/taskflow/internal/tlsutil"
	"github.com/taskflowhq/taskflow/store"
	"github.com/taskflowhq/taskflow/workflow"
)

// skipAuthPaths lists endpoints that stay reachable without credentials:
// probes and build information.
var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// Server wires configuration, storage, the engine and the HTTP listeners
// into one process.
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	telemetry  *telemetry.Providers

	engine  *taskflow.Engine
	store   store.Store
	dbPool  *database.PoolManager
	metrics *metrics.Collector

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler
	eventsHandler   *handlers.EventsHandler

	rateLimiterCancel context.CancelFunc
	cleanupCancel     context.CancelFunc
	wg                sync.WaitGroup
}

// NewServer creates a server from loaded configuration. Nothing listens
// until Start.
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, providers *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		telemetry:  providers,
	}
}

// Start brings the process up: run archive, engine, handlers, background
// cleanup, then the API and metrics listeners.
func (s *Server) Start() error {
	s.metrics = metrics.NewCollector(metrics.DefaultNamespace, s.logger)

	if err := s.initStore(); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	s.initEngine()
	s.initHandlers()
	s.startCleanup()

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("taskflow server started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store_backend", string(s.store.Backend())),
	)
	return nil
}

// initStore opens the run archive named by the store section. The database
// backend keeps its pool on the server for health checks and shutdown.
func (s *Server) initStore() error {
	switch store.Backend(s.cfg.Store.Backend) {
	case store.BackendRedis:
		host, portStr, err := net.SplitHostPort(s.cfg.Redis.Addr)
		if err != nil {
			return fmt.Errorf("invalid redis addr %q: %w", s.cfg.Redis.Addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid redis port %q: %w", portStr, err)
		}
		st, err := store.NewRedis(store.RedisConfig{
			Host:      host,
			Port:      port,
			Password:  s.cfg.Redis.Password,
			DB:        s.cfg.Redis.DB,
			PoolSize:  s.cfg.Redis.PoolSize,
			KeyPrefix: s.cfg.Store.KeyPrefix,
		})
		if err != nil {
			return err
		}
		s.store = st

	case store.BackendDatabase:
		pool, err := database.Open(s.cfg.Database, s.logger)
		if err != nil {
			return err
		}
		st, err := store.NewGorm(pool.DB())
		if err != nil {
			_ = pool.Close()
			return err
		}
		s.dbPool = pool
		s.store = st

	default:
		s.store = store.NewMemory()
	}

	s.logger.Info("run archive ready", zap.String("backend", string(s.store.Backend())))
	return nil
}

// initEngine assembles the workflow engine from configuration, sharing the
// server's archive and metrics collector.
func (s *Server) initEngine() {
	opts := append(taskflow.FromConfig(s.cfg),
		taskflow.WithLogger(s.logger),
		taskflow.WithStore(s.store),
		taskflow.WithMetrics(s.metrics),
	)
	s.engine = taskflow.New(opts...)
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("store", s.store.Ping))
	if s.dbPool != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.dbPool.Ping))
	}
	if c := s.engine.Cache(); c != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("cache", c.Ping))
	}

	s.workflowHandler = handlers.NewWorkflowHandler(s.engine.Manager(), s.logger).
		WithDefaults(workflowDefaults(s.cfg))

	s.eventsHandler = handlers.NewEventsHandler(s.logger, s.cfg.Server.CORSAllowedOrigins)
	s.eventsHandler.Bind(s.engine.Manager())
}

// workflowDefaults maps the planner and executor sections onto the strategy
// configuration applied to create requests that carry none.
func workflowDefaults(cfg *config.Config) workflow.Config {
	wc := workflow.DefaultConfig()
	if cfg.Planner.Kind != "" {
		wc.Planning.Planner = cfg.Planner.Kind
	}
	if cfg.Planner.MaxDepth > 0 {
		wc.Planning.MaxDepth = cfg.Planner.MaxDepth
	}
	if cfg.Planner.MaxRefinements > 0 {
		wc.Planning.MaxRefinements = cfg.Planner.MaxRefinements
	}
	if cfg.Executor.Mode != "" {
		wc.Planning.Mode = cfg.Executor.Mode
	}
	if cfg.Executor.MaxParallel > 0 {
		wc.Planning.MaxParallel = cfg.Executor.MaxParallel
	}
	return wc
}

// startCleanup evicts finished workflows on the configured interval so the
// manager's in-memory map does not grow without bound.
func (s *Server) startCleanup() {
	interval := s.cfg.Manager.CleanupInterval
	if interval <= 0 {
		return
	}
	age := s.cfg.Manager.CleanupAge

	ctx, cancel := context.WithCancel(context.Background())
	s.cleanupCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.engine.Manager().CleanupCompleted(age); n > 0 {
					s.logger.Debug("cleaned up finished workflows", zap.Int("removed", n))
				}
			}
		}
	}()
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/workflows", s.workflowHandler.HandleCreate)
	mux.HandleFunc("GET /api/v1/workflows", s.workflowHandler.HandleList)
	mux.HandleFunc("GET /api/v1/workflows/{id}", s.workflowHandler.HandleGet)
	mux.HandleFunc("POST /api/v1/workflows/{id}/start", s.workflowHandler.HandleStart)
	mux.HandleFunc("POST /api/v1/workflows/{id}/pause", s.workflowHandler.HandlePause)
	mux.HandleFunc("POST /api/v1/workflows/{id}/resume", s.workflowHandler.HandleResume)
	mux.HandleFunc("POST /api/v1/workflows/{id}/cancel", s.workflowHandler.HandleCancel)
	mux.HandleFunc("GET /api/v1/events", s.eventsHandler.HandleEvents)

	handler := s.buildMiddleware(mux)

	serverCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	useTLS := s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != ""
	if useTLS {
		serverCfg.TLSConfig = tlsutil.DefaultTLSConfig()
	}

	s.httpManager = server.NewManager(handler, serverCfg, s.logger)
	if useTLS {
		return s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
	}
	return s.httpManager.Start()
}

// buildMiddleware assembles the request pipeline. Rate limiting and the two
// auth schemes are wired only when configured, so a bare config serves an
// open API.
func (s *Server) buildMiddleware(mux http.Handler) http.Handler {
	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metrics),
	}

	if s.cfg.Telemetry.Enabled {
		chain = append(chain, OTelTracing())
	}

	chain = append(chain, CORS(s.cfg.Server.CORSAllowedOrigins))

	if s.cfg.Server.RateLimitRPS > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		s.rateLimiterCancel = cancel
		chain = append(chain, RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	if len(s.cfg.Server.APIKeys) > 0 {
		chain = append(chain, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	}
	if s.cfg.Server.JWTSecret != "" {
		chain = append(chain, JWTAuth(s.cfg.Server.JWTSecret, skipAuthPaths, s.logger))
	}

	return Chain(chain...)(mux)
}

// startMetricsServer serves Prometheus scrapes on a separate listener with
// no middleware. Port 0 disables it.
func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("metrics listener disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}

	s.metricsManager = server.NewManager(mux, serverCfg, s.logger)
	return s.metricsManager.Start()
}

// WaitForShutdown blocks until a signal arrives or the API listener fails,
// then tears the process down.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.httpManager.Errors():
		s.logger.Error("HTTP server failed", zap.Error(err))
	}

	s.Shutdown()
}

// Shutdown stops background work, drains the listeners and closes storage,
// in that order.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.cleanupCancel != nil {
		s.cleanupCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("metrics server shutdown failed", zap.Error(err))
		}
	}

	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("store close failed", zap.Error(err))
		}
	}
	if s.dbPool != nil {
		if err := s.dbPool.Close(); err != nil {
			s.logger.Warn("database close failed", zap.Error(err))
		}
	}
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}

	s.wg.Wait()
	s.logger.Info("taskflow server stopped")
}
