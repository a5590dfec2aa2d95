package oracle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/cache"
)

func setupCachedOracle(t *testing.T, inner Oracle, ttl time.Duration) (*miniredis.Miniredis, *Cached) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := cache.DefaultConfig()
	cfg.Addr = mr.Addr()
	cfg.HealthCheckInterval = 0

	cm, err := cache.NewManager(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	return mr, NewCached(inner, cm, ttl, zap.NewNop())
}

func TestCachedName(t *testing.T) {
	_, c := setupCachedOracle(t, Func("echo", func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: req.Prompt}, nil
	}), time.Minute)

	assert.Equal(t, "echo+cache", c.Name())
}

func TestCachedServesSecondCallFromCache(t *testing.T) {
	var calls atomic.Int32
	inner := Func("count", func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return &Response{Content: "answer", Tokens: 7}, nil
	})

	_, c := setupCachedOracle(t, inner, time.Minute)
	ctx := context.Background()

	first, err := c.Complete(ctx, Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "answer", first.Content)
	assert.Equal(t, int32(1), calls.Load())

	second, err := c.Complete(ctx, Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "answer", second.Content)
	assert.Equal(t, 7, second.Tokens)
	assert.Equal(t, int32(1), calls.Load(), "second call must hit the cache")
}

func TestCachedDistinguishesRequests(t *testing.T) {
	var calls atomic.Int32
	inner := Func("echo", func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return &Response{Content: req.Prompt}, nil
	})

	_, c := setupCachedOracle(t, inner, time.Minute)
	ctx := context.Background()

	a, err := c.Complete(ctx, Request{Prompt: "a"})
	require.NoError(t, err)
	b, err := c.Complete(ctx, Request{Prompt: "b"})
	require.NoError(t, err)

	assert.Equal(t, "a", a.Content)
	assert.Equal(t, "b", b.Content)
	assert.Equal(t, int32(2), calls.Load())

	// Vars participate in the key.
	_, err = c.Complete(ctx, Request{Prompt: "a", Vars: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCachedExpiry(t *testing.T) {
	var calls atomic.Int32
	inner := Func("count", func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return &Response{Content: "x"}, nil
	})

	mr, c := setupCachedOracle(t, inner, time.Second)
	ctx := context.Background()

	_, err := c.Complete(ctx, Request{Prompt: "q"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = c.Complete(ctx, Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "expired entry must be refetched")
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	boom := errors.New("backend down")
	var calls atomic.Int32
	inner := Func("flaky", func(ctx context.Context, req Request) (*Response, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return &Response{Content: "recovered"}, nil
	})

	_, c := setupCachedOracle(t, inner, time.Minute)
	ctx := context.Background()

	_, err := c.Complete(ctx, Request{Prompt: "q"})
	require.Error(t, err)

	resp, err := c.Complete(ctx, Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedDegradesWhenCacheDown(t *testing.T) {
	var calls atomic.Int32
	inner := Func("count", func(ctx context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return &Response{Content: "direct"}, nil
	})

	mr, c := setupCachedOracle(t, inner, time.Minute)
	mr.Close()

	// With Redis gone every call goes straight through.
	resp, err := c.Complete(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "direct", resp.Content)

	resp, err = c.Complete(context.Background(), Request{Prompt: "q"})
	require.NoError(t, err)
	assert.Equal(t, "direct", resp.Content)
	assert.Equal(t, int32(2), calls.Load())
}
