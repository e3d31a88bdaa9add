package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"

	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
)

func TestDialector(t *testing.T) {
	t.Run("SQLiteDefault", func(t *testing.T) {
		d, err := dialector(&config.DatabaseConfig{})
		require.NoError(t, err)
		s, ok := d.(*sqlite.Dialector)
		require.True(t, ok)
		assert.Equal(t, "ipo-reports.db", s.DSN)
	})

	t.Run("PostgreSQL", func(t *testing.T) {
		d, err := dialector(&config.DatabaseConfig{
			Type: "postgresql", Host: "localhost", Port: 5432,
			Database: "graphs", User: "ipo", Password: "secret",
		})
		require.NoError(t, err)
		p, ok := d.(*postgres.Dialector)
		require.True(t, ok)
		assert.Equal(t, "host=localhost port=5432 user=ipo password=secret dbname=graphs sslmode=disable", p.Config.DSN)
	})

	t.Run("MySQLExplicitDSN", func(t *testing.T) {
		d, err := dialector(&config.DatabaseConfig{Type: "mysql", DSN: "u:p@tcp(db:3306)/graphs", Host: "ignored"})
		require.NoError(t, err)
		m, ok := d.(*mysql.Dialector)
		require.True(t, ok)
		assert.Equal(t, "u:p@tcp(db:3306)/graphs", m.Config.DSN)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := dialector(&config.DatabaseConfig{Type: "oracle"})
		require.Error(t, err)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
	})
}

func TestPlaceholderFor(t *testing.T) {
	assert.Equal(t, "$2", PlaceholderFor("postgres")(2))
	assert.Equal(t, "$1", PlaceholderFor("postgresql")(1))
	assert.Equal(t, "?", PlaceholderFor("mysql")(3))
	assert.Equal(t, "?", PlaceholderFor("sqlite")(1))
}

func TestNewRepositories(t *testing.T) {
	db, _ := setupTestDB(t)

	repos := NewRepositories(db, "sqlite")
	require.NotNil(t, repos)
	assert.NotNil(t, repos.Build)
	assert.NotNil(t, repos.Reader)
	assert.Equal(t, db, repos.GormDB())
	assert.NotNil(t, repos.DB())
	assert.NoError(t, repos.HealthCheck(context.Background()))
}

func TestRepositories_ReaderSeesSavedRuns(t *testing.T) {
	db, _ := setupTestDB(t)
	repos := NewRepositories(db, "sqlite")
	ctx := context.Background()

	report := sampleReport("scenario_a")
	id, err := repos.Build.SaveReport(ctx, report)
	require.NoError(t, err)

	runs, err := repos.Reader.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.Equal(t, "scenario_a", runs[0].Name)
	assert.Equal(t, 1, runs[0].RemovedEdges)
	assert.Equal(t, 3, runs[0].Nodes)

	edges, err := repos.Reader.RemovedEdges(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.Removed, edges)

	waves, err := repos.Reader.Waves(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.Waves, waves)
}

func TestRepositories_Close(t *testing.T) {
	db, _ := setupTestDB(t)
	repos := NewRepositories(db, "sqlite")

	assert.NoError(t, repos.Close())
	assert.Error(t, repos.HealthCheck(context.Background()))
}

func TestOpenSQLiteReader(t *testing.T) {
	db, path := setupTestDB(t)
	repo := NewGormBuildRepository(db)
	ctx := context.Background()

	report := sampleReport("pure-go")
	id, err := repo.SaveReport(ctx, report)
	require.NoError(t, err)

	reader, err := OpenSQLiteReader(path)
	require.NoError(t, err)
	defer reader.Close()

	runs, err := reader.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, id, runs[0].ID)
	assert.False(t, runs[0].StartedAt.IsZero())

	waves, err := reader.Waves(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, report.Waves, waves)

	_, err = OpenSQLiteReader(filepath.Join(t.TempDir(), "missing", "runs.db"))
	assert.Error(t, err)
}
