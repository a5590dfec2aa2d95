package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/taskflowhq/taskflow/config"
)

// setupMockDB wires gorm over sqlmock for tests that need scripted
// failures.
func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// gorm.Open pings the connection once at connect time.
	mock.ExpectPing()

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 mockDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

// openSQLite opens a real pool against a sqlite file, exercising the same
// path the server uses at startup.
func openSQLite(t *testing.T) *PoolManager {
	t.Helper()

	pm, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "pool.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })
	return pm
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "dynamo"}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestOpen_SQLite(t *testing.T) {
	pm := openSQLite(t)

	require.NoError(t, pm.Ping(context.Background()))
	assert.NotNil(t, pm.DB())
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()

	cfg := PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}

	pm, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, pm.DB())
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
}

func TestNewPoolManager_NilDB(t *testing.T) {
	_, err := NewPoolManager(nil, PoolConfig{}, zap.NewNop())
	assert.Error(t, err)
}

func TestNewPoolManager_ZeroConfigGetsDefaults(t *testing.T) {
	mockDB, _, gormDB := setupMockDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, pm.Stats().MaxOpenConnections)
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, pm.Ping(context.Background()))
}

func TestPoolManager_PingAfterClose(t *testing.T) {
	mockDB, mock, gormDB := setupMockDB(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, pm.Close())

	err = pm.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// Close again is a no-op.
	assert.NoError(t, pm.Close())
}

func TestPoolManager_GetStats(t *testing.T) {
	pm := openSQLite(t)

	require.NoError(t, pm.Ping(context.Background()))

	stats := pm.GetStats()
	assert.GreaterOrEqual(t, stats.OpenConnections, 0)
	assert.Equal(t, DefaultPoolConfig().MaxOpenConns, stats.MaxOpenConnections)
}

func TestPoolManager_WithTransaction(t *testing.T) {
	pm := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, pm.DB().Exec("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)").Error)

	err := pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		return tx.Exec("INSERT INTO items (name) VALUES ('a')").Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, pm.DB().Raw("SELECT COUNT(*) FROM items").Scan(&count).Error)
	assert.Equal(t, int64(1), count)

	// A returned error rolls the transaction back.
	boom := errors.New("boom")
	err = pm.WithTransaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec("INSERT INTO items (name) VALUES ('b')").Error; err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, pm.DB().Raw("SELECT COUNT(*) FROM items").Scan(&count).Error)
	assert.Equal(t, int64(1), count, "rolled-back insert must not persist")
}

func TestPoolManager_WithTransactionRetry_NonRetryable(t *testing.T) {
	pm := openSQLite(t)

	calls := 0
	err := pm.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		return errors.New("constraint violation")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestPoolManager_WithTransactionRetry_Retryable(t *testing.T) {
	pm := openSQLite(t)

	calls := 0
	err := pm.WithTransactionRetry(context.Background(), 3, func(tx *gorm.DB) error {
		calls++
		if calls < 2 {
			return errors.New("deadlock detected")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("deadlock detected"), true},
		{errors.New("serialization failure"), true},
		{errors.New("ERROR: could not serialize access (SQLSTATE 40001)"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("connection refused"), true},
		{errors.New("broken pipe"), true},
		{errors.New("Lock wait timeout exceeded"), true},
		{errors.New("driver: bad connection"), true},
		{errors.New("duplicate key value"), false},
		{errors.New("syntax error"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isRetryableError(tt.err), "error: %v", tt.err)
	}
}
