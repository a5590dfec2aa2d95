package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 100, cfg.Server.RateLimitRPS)

	assert.Equal(t, 10, cfg.Manager.MaxConcurrent)
	assert.Equal(t, 5*time.Minute, cfg.Manager.DefaultTimeout)
	assert.Equal(t, time.Hour, cfg.Manager.CleanupAge)

	assert.Equal(t, "parallel", cfg.Executor.Mode)
	assert.Equal(t, 3, cfg.Executor.MaxParallel)

	assert.Equal(t, "llm", cfg.Planner.Kind)
	assert.Equal(t, 3, cfg.Planner.MaxDepth)
	assert.Equal(t, 3, cfg.Planner.MaxRefinements)

	assert.Equal(t, "cl100k_base", cfg.Oracle.TokenEncoding)
	assert.Zero(t, cfg.Oracle.RateLimitRPS)
	assert.False(t, cfg.Oracle.CacheEnabled)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "taskflow", cfg.Store.KeyPrefix)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "taskflow", cfg.Telemetry.ServiceName)
	assert.Equal(t, 1.0, cfg.Telemetry.SampleRate)
}

// Defaults must satisfy their own validation, otherwise a bare NewLoader().Load()
// with a Validate validator would fail out of the box.
func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}
