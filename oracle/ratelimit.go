package oracle

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimited wraps an Oracle with a token-bucket limiter so bursts of task
// executions cannot flood the backing service. Waiting respects the caller's
// context, so cancellation during a throttled wait is honored.
type RateLimited struct {
	inner   Oracle
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRateLimited wraps inner with a limiter of rps requests per second and
// the given burst size.
func NewRateLimited(inner Oracle, rps float64, burst int, logger *zap.Logger) *RateLimited {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "oracle_ratelimit")),
	}
}

// Name implements Oracle.
func (r *RateLimited) Name() string {
	return r.inner.Name() + "+ratelimit"
}

// Complete implements Oracle.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.inner.Complete(ctx, req)
}
