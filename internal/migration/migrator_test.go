package migration

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	appconfig "github.com/taskflowhq/taskflow/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSQLiteMigrator opens a migrator against a fresh database file so each
// test starts from version 0.
func newSQLiteMigrator(t *testing.T) *DefaultMigrator {
	t.Helper()

	path := filepath.Join(t.TempDir(), "runs.db")
	m, err := NewMigratorFromURL("sqlite", BuildDatabaseURL(DatabaseTypeSQLite, "", 0, path, "", "", ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestNewMigrator_Validation(t *testing.T) {
	_, err := NewMigrator(nil)
	assert.Error(t, err)

	_, err = NewMigrator(&Config{DatabaseType: DatabaseTypeSQLite})
	assert.Error(t, err, "missing URL must be rejected")

	_, err = NewMigrator(&Config{DatabaseType: "cockroach", DatabaseURL: "whatever"})
	assert.Error(t, err)
}

func TestParseDatabaseType(t *testing.T) {
	tests := []struct {
		in      string
		want    DatabaseType
		wantErr bool
	}{
		{"postgres", DatabaseTypePostgres, false},
		{"postgresql", DatabaseTypePostgres, false},
		{"PG", DatabaseTypePostgres, false},
		{"mysql", DatabaseTypeMySQL, false},
		{"mariadb", DatabaseTypeMySQL, false},
		{"sqlite", DatabaseTypeSQLite, false},
		{"sqlite3", DatabaseTypeSQLite, false},
		{"mongodb", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDatabaseType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
		} else {
			require.NoError(t, err, "input %q", tt.in)
			assert.Equal(t, tt.want, got)
		}
	}
}

func TestBuildDatabaseURL(t *testing.T) {
	pg := BuildDatabaseURL(DatabaseTypePostgres, "db.local", 5432, "runs", "tf", "pw", "disable")
	assert.Equal(t, "postgres://tf:pw@db.local:5432/runs?sslmode=disable", pg)

	// Empty sslmode falls back to require.
	pgDefault := BuildDatabaseURL(DatabaseTypePostgres, "db.local", 5432, "runs", "tf", "pw", "")
	assert.Contains(t, pgDefault, "sslmode=require")

	my := BuildDatabaseURL(DatabaseTypeMySQL, "db.local", 3306, "runs", "tf", "pw", "")
	assert.Equal(t, "tf:pw@tcp(db.local:3306)/runs?parseTime=true&multiStatements=true", my)

	sq := BuildDatabaseURL(DatabaseTypeSQLite, "", 0, "/tmp/runs.db", "", "", "")
	assert.Equal(t, "file:/tmp/runs.db?mode=rwc", sq)

	assert.Empty(t, BuildDatabaseURL("unknown", "", 0, "", "", "", ""))
}

func TestMigrator_UpDownCycle(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	// Fresh database reports version 0, clean.
	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, m.Up(ctx))

	version, dirty, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Up again is a no-op, not an error.
	require.NoError(t, m.Up(ctx))

	// Roll back one step, then return.
	require.NoError(t, m.Down(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, m.Goto(ctx, 2))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	// All the way down, then stepwise back up.
	require.NoError(t, m.DownAll(ctx))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, m.Steps(ctx, 1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrator_Status(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	assert.Equal(t, uint(1), statuses[0].Version)
	assert.Equal(t, "create_workflow_runs", statuses[0].Name)
	assert.False(t, statuses[0].Applied)

	assert.Equal(t, uint(2), statuses[1].Version)
	assert.Equal(t, "add_type_status_index", statuses[1].Name)
	assert.False(t, statuses[1].Applied)

	require.NoError(t, m.Up(ctx))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, statuses[0].Applied)
	assert.True(t, statuses[1].Applied)
}

func TestMigrator_Info(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalMigrations)
	assert.Equal(t, 0, info.AppliedMigrations)
	assert.Equal(t, 2, info.PendingMigrations)

	require.NoError(t, m.Up(ctx))

	info, err = m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), info.CurrentVersion)
	assert.False(t, info.Dirty)
	assert.Equal(t, 2, info.AppliedMigrations)
	assert.Equal(t, 0, info.PendingMigrations)
}

func TestMigrator_Force(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	// Force re-stamps the version without running anything.
	require.NoError(t, m.Force(ctx, 1))

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestNewMigratorFromDatabaseConfig_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	m, err := NewMigratorFromDatabaseConfig(appconfig.DatabaseConfig{
		Driver: "sqlite",
		Name:   path,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Up(context.Background()))

	version, _, err := m.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestNewMigratorFromDatabaseConfig_BadDriver(t *testing.T) {
	_, err := NewMigratorFromDatabaseConfig(appconfig.DatabaseConfig{Driver: "dynamo"})
	assert.Error(t, err)
}

func TestCLI(t *testing.T) {
	m := newSQLiteMigrator(t)
	ctx := context.Background()

	var out bytes.Buffer
	cli := NewCLI(m)
	cli.SetOutput(&out)

	require.NoError(t, cli.RunUp(ctx))
	assert.Contains(t, out.String(), "Migrations complete. Current version: 2")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, out.String(), "VERSION")
	assert.Contains(t, out.String(), "create_workflow_runs")
	assert.Contains(t, out.String(), "yes")

	out.Reset()
	require.NoError(t, cli.RunInfo(ctx))
	assert.Contains(t, out.String(), "Total migrations:   2")

	out.Reset()
	require.NoError(t, cli.RunVersion(ctx))
	assert.Equal(t, "2\n", out.String())

	out.Reset()
	require.NoError(t, cli.RunDown(ctx))
	assert.Contains(t, out.String(), "Rollback complete. Current version: 1")
}
