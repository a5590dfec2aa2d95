// Package store archives finished workflow runs. The archive is a record of
// what ran and how it ended, not a recovery journal: records are written once
// when a run concludes and are queried for inspection, stats and cleanup.
//
// Supported backends:
// - Memory: for development and testing (default)
// - Redis: for shared deployments
// - Database: any GORM-supported SQL database
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Common errors
var (
	ErrNotFound      = errors.New("run not found")
	ErrClosed        = errors.New("store is closed")
	ErrInvalidRecord = errors.New("invalid run record")
)

// Backend identifies a storage backend.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendDatabase Backend = "database"
)

// RunRecord is one archived workflow execution. ID identifies the record;
// WorkflowID identifies the workflow instance, which may have several
// archived runs. CreatedAt is stamped when the record is saved.
type RunRecord struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Type       string         `json:"workflow_type"`
	Status     string         `json:"status"`
	Goal       string         `json:"goal"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	Details    map[string]any `json:"details,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   time.Duration  `json:"duration"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows a ListRuns query. Zero fields match everything.
type Filter struct {
	// WorkflowID restricts to runs of one workflow instance.
	WorkflowID string

	// Type restricts to one workflow type.
	Type string

	// Status restricts to runs in any of the given statuses.
	Status []string

	// CreatedAfter keeps records archived after this time.
	CreatedAfter *time.Time

	// CreatedBefore keeps records archived before this time.
	CreatedBefore *time.Time

	// Limit caps the number of records returned (0 means no cap).
	Limit int

	// Offset skips the first records of the result.
	Offset int

	// OrderDesc returns newest records first instead of oldest first.
	OrderDesc bool
}

// Stats summarizes the archive contents.
type Stats struct {
	TotalRuns int64            `json:"total_runs"`
	ByStatus  map[string]int64 `json:"by_status"`
	ByType    map[string]int64 `json:"by_type"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	// Host is the Redis server host.
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port.
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size.
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// Config selects and configures the archive backend.
type Config struct {
	// Backend is the storage backend type.
	Backend Backend `json:"backend" yaml:"backend"`

	// Redis configuration (only used when Backend is "redis").
	Redis RedisConfig `json:"redis" yaml:"redis"`
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() Config {
	return Config{
		Backend: BackendMemory,
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "taskflow:",
		},
	}
}

// Store is the run archive contract.
type Store interface {
	// Close closes the store and releases resources.
	Close() error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error

	// Backend returns the backend type, used for metric labels.
	Backend() Backend

	// SaveRun persists a record, stamping ID and CreatedAt when unset.
	// Saving an existing ID replaces the record.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a record by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns retrieves records matching the filter criteria.
	ListRuns(ctx context.Context, filter Filter) ([]*RunRecord, error)

	// DeleteRun removes a record by ID.
	DeleteRun(ctx context.Context, id string) error

	// Cleanup removes records archived more than olderThan ago and
	// returns how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)

	// Stats returns statistics about the archive.
	Stats(ctx context.Context) (*Stats, error)
}

// Open builds a store from configuration. The database backend needs an
// opened *gorm.DB and is constructed with NewGorm instead.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendRedis:
		return NewRedis(cfg.Redis)
	case BackendDatabase:
		return nil, errors.New("database backend requires an opened *gorm.DB, use NewGorm")
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

// matchesFilter checks if a record matches the filter criteria.
func matchesFilter(rec *RunRecord, filter Filter) bool {
	if filter.WorkflowID != "" && rec.WorkflowID != filter.WorkflowID {
		return false
	}

	if filter.Type != "" && rec.Type != filter.Type {
		return false
	}

	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if rec.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.CreatedAfter != nil && rec.CreatedAt.Before(*filter.CreatedAfter) {
		return false
	}

	if filter.CreatedBefore != nil && rec.CreatedAt.After(*filter.CreatedBefore) {
		return false
	}

	return true
}

// sortRuns orders records by archive time, oldest first unless desc.
func sortRuns(runs []*RunRecord, desc bool) {
	sort.Slice(runs, func(i, j int) bool {
		less := runs[i].CreatedAt.Before(runs[j].CreatedAt)
		if desc {
			return !less
		}
		return less
	})
}

// pageRuns applies offset and limit to a sorted result.
func pageRuns(runs []*RunRecord, offset, limit int) []*RunRecord {
	if offset > 0 {
		if offset >= len(runs) {
			return []*RunRecord{}
		}
		runs = runs[offset:]
	}

	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}

	return runs
}
