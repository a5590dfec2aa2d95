package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// runRow is the database row for an archived run. Details is stored as a
// JSON string so the schema stays portable across sqlite, postgres and
// mysql. Duration is stored in milliseconds.
type runRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	WorkflowID string `gorm:"size:64;index"`
	Type       string `gorm:"column:workflow_type;size:64;index"`
	Status     string `gorm:"size:32;index"`
	Goal       string `gorm:"type:text"`
	Output     string `gorm:"type:text"`
	Error      string `gorm:"type:text"`
	Success    bool
	Details    string `gorm:"type:text"`
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS int64     `gorm:"column:duration_ms"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName fixes the table name used by the embedded migrations.
func (runRow) TableName() string { return "workflow_runs" }

func toRow(rec *RunRecord) (*runRow, error) {
	details := ""
	if len(rec.Details) > 0 {
		b, err := json.Marshal(rec.Details)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run details: %w", err)
		}
		details = string(b)
	}
	return &runRow{
		ID:         rec.ID,
		WorkflowID: rec.WorkflowID,
		Type:       rec.Type,
		Status:     rec.Status,
		Goal:       rec.Goal,
		Output:     rec.Output,
		Error:      rec.Error,
		Success:    rec.Success,
		Details:    details,
		StartedAt:  rec.StartedAt,
		FinishedAt: rec.FinishedAt,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func (r *runRow) toRecord() *RunRecord {
	rec := &RunRecord{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		Type:       r.Type,
		Status:     r.Status,
		Goal:       r.Goal,
		Output:     r.Output,
		Error:      r.Error,
		Success:    r.Success,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Duration:   time.Duration(r.DurationMS) * time.Millisecond,
		CreatedAt:  r.CreatedAt,
	}
	if r.Details != "" {
		_ = json.Unmarshal([]byte(r.Details), &rec.Details)
	}
	return rec
}

// Gorm is a SQL-backed implementation of Store on top of a GORM database.
// The caller owns opening the database with the right driver; the schema
// comes from the embedded migrations or, in tests, from AutoMigrate.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an opened GORM database as a run archive.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if db == nil {
		return nil, errors.New("nil gorm database")
	}
	return &Gorm{db: db}, nil
}

// AutoMigrate creates or updates the workflow_runs table. Production
// deployments use the versioned migrations instead.
func (s *Gorm) AutoMigrate() error {
	return s.db.AutoMigrate(&runRow{})
}

// Close closes the underlying database connection.
func (s *Gorm) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy.
func (s *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Backend returns the backend type.
func (s *Gorm) Backend() Backend {
	return BackendDatabase
}

// SaveRun persists a record to the archive.
func (s *Gorm) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil {
		return ErrInvalidRecord
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	row, err := toRow(rec)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Save(row).Error
}

// GetRun retrieves a record by ID.
func (s *Gorm) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// ListRuns retrieves records matching the filter criteria.
func (s *Gorm) ListRuns(ctx context.Context, filter Filter) ([]*RunRecord, error) {
	q := s.db.WithContext(ctx).Model(&runRow{})

	if filter.WorkflowID != "" {
		q = q.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Type != "" {
		q = q.Where("workflow_type = ?", filter.Type)
	}
	if len(filter.Status) > 0 {
		q = q.Where("status IN ?", filter.Status)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}

	if filter.OrderDesc {
		q = q.Order("created_at DESC")
	} else {
		q = q.Order("created_at ASC")
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make([]*RunRecord, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toRecord())
	}
	return result, nil
}

// DeleteRun removes a record from the archive.
func (s *Gorm) DeleteRun(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&runRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Cleanup removes records archived more than olderThan ago.
func (s *Gorm) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Delete(&runRow{}, "created_at < ?", cutoff)
	return int(res.RowsAffected), res.Error
}

// Stats returns statistics about the archive.
func (s *Gorm) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[string]int64),
		ByType:   make(map[string]int64),
	}

	if err := s.db.WithContext(ctx).Model(&runRow{}).Count(&stats.TotalRuns).Error; err != nil {
		return nil, err
	}

	if err := s.groupCount(ctx, "status", stats.ByStatus); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, "workflow_type", stats.ByType); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *Gorm) groupCount(ctx context.Context, column string, out map[string]int64) error {
	rows, err := s.db.WithContext(ctx).Model(&runRow{}).
		Select(column + ", count(*)").Group(column).Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		out[key] = n
	}
	return rows.Err()
}

// Ensure Gorm implements Store
var _ Store = (*Gorm)(nil)
