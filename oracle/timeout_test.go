package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeLimited_PassThrough(t *testing.T) {
	inner := Func("inner", func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: "ok"}, nil
	})

	tl := NewTimeLimited(inner, time.Second)
	resp, err := tl.Complete(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, "inner+timeout", tl.Name())
}

func TestTimeLimited_CutsOffSlowCall(t *testing.T) {
	inner := Func("slow", func(ctx context.Context, req Request) (*Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return &Response{Content: "too late"}, nil
		}
	})

	tl := NewTimeLimited(inner, 20*time.Millisecond)
	_, err := tl.Complete(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeLimited_ZeroTimeoutIsNoop(t *testing.T) {
	inner := Func("inner", func(ctx context.Context, req Request) (*Response, error) {
		return &Response{Content: "ok"}, nil
	})

	tl := NewTimeLimited(inner, 0)
	assert.Equal(t, "inner", tl.Name())
}

func TestTimeLimited_CallerDeadlineWins(t *testing.T) {
	var sawDeadline time.Time
	inner := Func("inner", func(ctx context.Context, req Request) (*Response, error) {
		sawDeadline, _ = ctx.Deadline()
		return &Response{Content: "ok"}, nil
	})

	tl := NewTimeLimited(inner, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := tl.Complete(ctx, Request{Prompt: "p"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), sawDeadline, 40*time.Millisecond)
}
