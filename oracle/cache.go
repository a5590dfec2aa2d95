package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/taskflowhq/taskflow/internal/cache"
)

// Cached wraps an Oracle with a Redis-backed response cache. Identical
// requests within the TTL are served from the cache without touching the
// backing service. Cache failures degrade to a direct call; they never
// fail the request.
type Cached struct {
	inner  Oracle
	cache  *cache.Manager
	ttl    time.Duration
	logger *zap.Logger
}

// NewCached wraps inner with the given cache. A zero ttl uses the cache
// manager's default.
func NewCached(inner Oracle, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *Cached {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cached{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "oracle_cache")),
	}
}

// Name implements Oracle.
func (c *Cached) Name() string {
	return c.inner.Name() + "+cache"
}

// Complete implements Oracle.
func (c *Cached) Complete(ctx context.Context, req Request) (*Response, error) {
	key := requestKey(req)

	var cached Response
	err := c.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		c.logger.Debug("oracle cache hit", zap.String("key", key))
		return &cached, nil
	}
	if !cache.IsCacheMiss(err) {
		c.logger.Warn("oracle cache read failed", zap.Error(err))
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, key, resp, c.ttl); err != nil {
		c.logger.Warn("oracle cache write failed", zap.Error(err))
	}

	return resp, nil
}

// requestKey hashes the request into a stable cache key. Map fields
// marshal with sorted keys, so equal requests always collide.
func requestKey(req Request) string {
	payload, _ := json.Marshal(req)
	sum := sha256.Sum256(payload)
	return "oracle:" + hex.EncodeToString(sum[:])
}
