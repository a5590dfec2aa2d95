package oracle

import (
	"context"
	"time"
)

// TimeLimited wraps an Oracle with a per-call deadline so one stuck
// completion cannot hold a workflow open indefinitely. A tighter deadline
// already on the caller's context wins.
type TimeLimited struct {
	inner   Oracle
	timeout time.Duration
}

// NewTimeLimited wraps inner with the given per-call timeout. A timeout of
// zero or less returns inner unchanged.
func NewTimeLimited(inner Oracle, timeout time.Duration) Oracle {
	if timeout <= 0 {
		return inner
	}
	return &TimeLimited{inner: inner, timeout: timeout}
}

// Name implements Oracle.
func (t *TimeLimited) Name() string {
	return t.inner.Name() + "+timeout"
}

// Complete implements Oracle.
func (t *TimeLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Complete(ctx, req)
}
