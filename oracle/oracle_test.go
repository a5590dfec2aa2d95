package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAdapter(t *testing.T) {
	o := Func("echo", func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: "echo: " + req.Prompt}, nil
	})

	resp, err := o.Complete(context.Background(), Request{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", resp.Content)
	assert.Equal(t, "echo", o.Name())
}

func TestFuncAdapter_Error(t *testing.T) {
	boom := errors.New("backend down")
	o := Func("", func(ctx context.Context, req Request) (*Response, error) {
		return nil, boom
	})

	_, err := o.Complete(context.Background(), Request{Prompt: "x"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "func", o.Name())
}

func TestRateLimited_PassThrough(t *testing.T) {
	calls := 0
	inner := Func("inner", func(ctx context.Context, req Request) (*Response, error) {
		calls++
		return &Response{Content: "ok"}, nil
	})

	rl := NewRateLimited(inner, 100, 10, nil)
	for i := 0; i < 3; i++ {
		resp, err := rl.Complete(context.Background(), Request{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Content)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, "inner+ratelimit", rl.Name())
}

func TestRateLimited_HonorsCancellation(t *testing.T) {
	inner := Func("inner", func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: "ok"}, nil
	})

	// Burst 1 at a tiny rate: the second call must wait, and the cancelled
	// context aborts that wait.
	rl := NewRateLimited(inner, 0.001, 1, nil)

	_, err := rl.Complete(context.Background(), Request{Prompt: "first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.Complete(ctx, Request{Prompt: "second"})
	assert.Error(t, err)
}
