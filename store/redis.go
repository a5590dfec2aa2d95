package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// connectTimeout bounds the connection probe at construction.
const connectTimeout = 5 * time.Second

// archivedStatuses are the statuses a concluded run can carry. Stats
// enumerates these instead of scanning the keyspace.
var archivedStatuses = []string{"completed", "failed", "cancelled"}

// Redis is a Redis-backed implementation of Store.
// Records are stored as JSON values with sorted-set indexes by status,
// workflow and type, scored by archive time for range cleanup.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis creates a Redis-backed run archive and probes the connection.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "taskflow:"
	}

	return &Redis{
		client:    client,
		keyPrefix: keyPrefix + "run:",
	}, nil
}

// Close closes the store.
func (s *Redis) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy.
func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Backend returns the backend type.
func (s *Redis) Backend() Backend {
	return BackendRedis
}

// runKey returns the Redis key for a record.
func (s *Redis) runKey(id string) string {
	return s.keyPrefix + "data:" + id
}

// statusKey returns the Redis key for a status index.
func (s *Redis) statusKey(status string) string {
	return s.keyPrefix + "status:" + status
}

// workflowKey returns the Redis key for a workflow's run index.
func (s *Redis) workflowKey(workflowID string) string {
	return s.keyPrefix + "workflow:" + workflowID
}

// typeKey returns the Redis key for a workflow-type index.
func (s *Redis) typeKey(wtype string) string {
	return s.keyPrefix + "type:" + wtype
}

// allKey returns the Redis key for the all-runs index.
func (s *Redis) allKey() string {
	return s.keyPrefix + "all"
}

// SaveRun persists a record to the archive.
func (s *Redis) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return ErrInvalidRecord
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	// Previous version, for index migration on replace
	old, _ := s.GetRun(ctx, rec.ID)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}

	score := float64(rec.CreatedAt.UnixNano())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.runKey(rec.ID), data, 0)

	if old != nil && old.Status != rec.Status {
		pipe.ZRem(ctx, s.statusKey(old.Status), rec.ID)
	}
	pipe.ZAdd(ctx, s.statusKey(rec.Status), redis.Z{Score: score, Member: rec.ID})
	pipe.ZAdd(ctx, s.allKey(), redis.Z{Score: score, Member: rec.ID})

	if rec.WorkflowID != "" {
		pipe.ZAdd(ctx, s.workflowKey(rec.WorkflowID), redis.Z{Score: score, Member: rec.ID})
	}
	if rec.Type != "" {
		pipe.ZAdd(ctx, s.typeKey(rec.Type), redis.Z{Score: score, Member: rec.ID})
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetRun retrieves a record by ID.
func (s *Redis) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}

	return &rec, nil
}

// ListRuns retrieves records matching the filter criteria. The narrowest
// available index is scanned, then the remaining criteria are applied
// in memory.
func (s *Redis) ListRuns(ctx context.Context, filter Filter) ([]*RunRecord, error) {
	var ids []string
	var err error

	switch {
	case len(filter.Status) == 1:
		ids, err = s.client.ZRange(ctx, s.statusKey(filter.Status[0]), 0, -1).Result()
	case filter.WorkflowID != "":
		ids, err = s.client.ZRange(ctx, s.workflowKey(filter.WorkflowID), 0, -1).Result()
	case filter.Type != "":
		ids, err = s.client.ZRange(ctx, s.typeKey(filter.Type), 0, -1).Result()
	default:
		ids, err = s.client.ZRange(ctx, s.allKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, err
	}

	result := make([]*RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetRun(ctx, id)
		if err != nil {
			continue
		}
		if matchesFilter(rec, filter) {
			result = append(result, rec)
		}
	}

	sortRuns(result, filter.OrderDesc)

	return pageRuns(result, filter.Offset, filter.Limit), nil
}

// DeleteRun removes a record from the archive.
func (s *Redis) DeleteRun(ctx context.Context, id string) error {
	rec, err := s.GetRun(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.runKey(id))
	pipe.ZRem(ctx, s.statusKey(rec.Status), id)
	pipe.ZRem(ctx, s.allKey(), id)

	if rec.WorkflowID != "" {
		pipe.ZRem(ctx, s.workflowKey(rec.WorkflowID), id)
	}
	if rec.Type != "" {
		pipe.ZRem(ctx, s.typeKey(rec.Type), id)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// Cleanup removes records archived more than olderThan ago.
func (s *Redis) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).UnixNano()
	count := 0

	ids, err := s.client.ZRangeByScore(ctx, s.allKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.DeleteRun(ctx, id); err == nil {
			count++
		}
	}

	return count, nil
}

// Stats returns statistics about the archive.
func (s *Redis) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	total, err := s.client.ZCard(ctx, s.allKey()).Result()
	if err != nil {
		return nil, err
	}
	stats.TotalRuns = total

	for _, status := range archivedStatuses {
		count, err := s.client.ZCard(ctx, s.statusKey(status)).Result()
		if err == nil && count > 0 {
			stats.ByStatus[status] = count
		}
	}

	typeKeys, err := s.client.Keys(ctx, s.keyPrefix+"type:*").Result()
	if err == nil {
		for _, key := range typeKeys {
			wtype := key[len(s.keyPrefix+"type:"):]
			count, err := s.client.ZCard(ctx, key).Result()
			if err == nil && count > 0 {
				stats.ByType[wtype] = count
			}
		}
	}

	return stats, nil
}

// Ensure Redis implements Store
var _ Store = (*Redis)(nil)
