package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-memory implementation of Store.
// Suitable for development and testing. Data is lost on restart.
type Memory struct {
	runs   map[string]*RunRecord
	mu     sync.RWMutex
	closed bool
}

// NewMemory creates a new in-memory run archive.
func NewMemory() *Memory {
	return &Memory{
		runs: make(map[string]*RunRecord),
	}
}

// Close closes the store.
func (s *Memory) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping checks if the store is healthy.
func (s *Memory) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Backend returns the backend type.
func (s *Memory) Backend() Backend {
	return BackendMemory
}

// SaveRun persists a record to the archive.
func (s *Memory) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.runs[rec.ID] = rec

	return nil
}

// GetRun retrieves a record by ID.
func (s *Memory) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	rec, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}

	return rec, nil
}

// ListRuns retrieves records matching the filter criteria.
func (s *Memory) ListRuns(ctx context.Context, filter Filter) ([]*RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	result := make([]*RunRecord, 0)
	for _, rec := range s.runs {
		if matchesFilter(rec, filter) {
			result = append(result, rec)
		}
	}

	sortRuns(result, filter.OrderDesc)

	return pageRuns(result, filter.Offset, filter.Limit), nil
}

// DeleteRun removes a record from the archive.
func (s *Memory) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, ok := s.runs[id]; !ok {
		return ErrNotFound
	}

	delete(s.runs, id)

	return nil
}

// Cleanup removes records archived more than olderThan ago.
func (s *Memory) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	cutoff := time.Now().Add(-olderThan)
	count := 0

	for id, rec := range s.runs {
		if rec.CreatedAt.Before(cutoff) {
			delete(s.runs, id)
			count++
		}
	}

	return count, nil
}

// Stats returns statistics about the archive.
func (s *Memory) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	for _, rec := range s.runs {
		stats.TotalRuns++
		stats.ByStatus[rec.Status]++
		stats.ByType[rec.Type]++
	}

	return stats, nil
}

// Ensure Memory implements Store
var _ Store = (*Memory)(nil)
