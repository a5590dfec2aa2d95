package taskflow

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskflowhq/taskflow/config"
	"github.com/taskflowhq/taskflow/oracle"
	"github.com/taskflowhq/taskflow/testutil"
	"github.com/taskflowhq/taskflow/testutil/fixtures"
	"github.com/taskflowhq/taskflow/testutil/mocks"
	"github.com/taskflowhq/taskflow/workflow"
)

func oneStepConfig() workflow.Config {
	cfg := workflow.DefaultConfig()
	cfg.Sequential.Steps = []workflow.Step{
		{Name: "only", Description: "do the one thing"},
	}
	return cfg
}

func runSequential(t *testing.T, eng *Engine) *workflow.Result {
	t.Helper()
	w, err := eng.Manager().CreateWorkflow(workflow.TypeSequential, "a goal", oneStepConfig())
	require.NoError(t, err)
	res, err := eng.Manager().StartWorkflow(context.Background(), w.ID(), "a goal", nil)
	require.NoError(t, err)
	return res
}

func TestNewRegistersDefaults(t *testing.T) {
	eng := New()
	require.NotNil(t, eng.Manager())
	assert.Equal(t, []string{
		"code_execute_refine", "human_loop", "interactive", "planning", "sequential",
	}, eng.Manager().Types())
	assert.Nil(t, eng.Cache())
	assert.NoError(t, eng.Close())
}

func TestNewNilOracleFallbacks(t *testing.T) {
	eng := New()

	res := runSequential(t, eng)
	assert.True(t, res.Success)
	assert.Equal(t, "Executed step: only", res.Output)
}

func TestNewDecoratedPipeline(t *testing.T) {
	var calls atomic.Int32
	backend := oracle.Func("backend", func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
		calls.Add(1)
		return &oracle.Response{Content: "stepped"}, nil
	})

	eng := New(
		WithOracle(backend),
		WithCallTimeout(time.Minute),
		WithRateLimit(100, 10),
		WithDefaultTimeout(30*time.Second),
		WithMaxConcurrent(4),
	)

	res := runSequential(t, eng)
	assert.True(t, res.Success)
	assert.Equal(t, "stepped", res.Output)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewCallTimeoutBoundsOracle(t *testing.T) {
	stuck := oracle.Func("stuck", func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	eng := New(WithOracle(stuck), WithCallTimeout(30*time.Millisecond))

	// The per-call deadline fires inside the oracle, so the step fails
	// while the workflow itself finishes.
	res := runSequential(t, eng)
	assert.False(t, res.Success)
	errs, ok := res.Details["errors"].([]string)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], context.DeadlineExceeded.Error())
}

func TestNewResponseCacheDeduplicates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	var calls atomic.Int32
	backend := oracle.Func("backend", func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
		calls.Add(1)
		return &oracle.Response{Content: fmt.Sprintf("call %d", calls.Load())}, nil
	})

	eng := New(
		WithOracle(backend),
		WithResponseCache(config.RedisConfig{Addr: mr.Addr()}, time.Minute),
	)
	t.Cleanup(func() { _ = eng.Close() })
	require.NotNil(t, eng.Cache())

	first := runSequential(t, eng)
	second := runSequential(t, eng)

	// Identical step prompts, so the second run is served from Redis.
	assert.Equal(t, "call 1", first.Output)
	assert.Equal(t, "call 1", second.Output)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewResponseCacheUnavailableDegrades(t *testing.T) {
	var calls atomic.Int32
	backend := oracle.Func("backend", func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
		calls.Add(1)
		return &oracle.Response{Content: "direct"}, nil
	})

	eng := New(
		WithOracle(backend),
		WithResponseCache(config.RedisConfig{Addr: "127.0.0.1:1"}, time.Minute),
	)

	assert.Nil(t, eng.Cache())
	res := runSequential(t, eng)
	assert.True(t, res.Success)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, eng.Close())
}

func TestNewPlanningEndToEnd(t *testing.T) {
	// First reply is the plan, the rest answer the three task executions.
	back := mocks.NewScriptedOracle(
		fixtures.ChainPlanText("collect inputs", "assemble report", "verify output"),
		"collected", "assembled", "verified",
	)
	eng := New(WithOracle(back))

	m := eng.Manager()
	w, err := m.CreateWorkflow(workflow.TypePlanning, "produce the quarterly report", workflow.DefaultConfig())
	require.NoError(t, err)

	res, err := m.StartWorkflow(testutil.TestContext(t), w.ID(), "produce the quarterly report", nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Details["total_tasks"])
	assert.Equal(t, 0, res.Details["failed_tasks"])
	assert.Equal(t, 4, back.CallCount())
}

func TestNewHumanLoopApprovalFlow(t *testing.T) {
	rec := mocks.NewActionRecorder().CompleteAfter(2)
	eng := New(WithOracle(mocks.NewSuccessOracle("proposal text")))

	wc := workflow.DefaultConfig()
	wc.HumanLoop.Approval = mocks.ApproveAll()
	wc.HumanLoop.Action = rec.Execute

	m := eng.Manager()
	w, err := m.CreateWorkflow(workflow.TypeHumanLoop, "apply the pending changes", wc)
	require.NoError(t, err)

	res, err := m.StartWorkflow(testutil.TestContext(t), w.ID(), "apply the pending changes", nil)
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, rec.Count())
	assert.Equal(t, 2, res.Details["approved"])
	assert.Equal(t, 0, res.Details["rejected"])
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	// Defaults carry manager limits and the call timeout only.
	assert.Len(t, FromConfig(cfg), 3)

	cfg.Oracle.RateLimitRPS = 5
	cfg.Oracle.CacheEnabled = true
	cfg.Oracle.TokenBudget = 4096
	assert.Len(t, FromConfig(cfg), 6)
}

func TestFromConfigOptionsAssemble(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Oracle.Timeout = time.Minute
	cfg.Oracle.RateLimitRPS = 50
	cfg.Oracle.RateLimitBurst = 10

	opts := append(FromConfig(cfg), WithOracle(oracle.Func("backend",
		func(ctx context.Context, req oracle.Request) (*oracle.Response, error) {
			return &oracle.Response{Content: "ok"}, nil
		})))

	eng := New(opts...)
	res := runSequential(t, eng)
	assert.True(t, res.Success)
	assert.Equal(t, "ok", res.Output)
}
