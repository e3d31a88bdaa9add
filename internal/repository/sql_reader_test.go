package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
)

func TestSQLReportReader_ListRuns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLReportReader(db, DollarPlaceholder)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ListRuns_Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "name", "status", "nodes", "removed", "started_at"}).
			AddRow(int64(2), "nightly", model.BuildStatusCompleted, 10, 3, started).
			AddRow(int64(1), "nightly", model.BuildStatusCyclic, 4, 0, "2026-02-28 09:30:00")

		mock.ExpectQuery(`SELECT id, COALESCE\(name, ''\), status`).
			WithArgs(5).
			WillReturnRows(rows)

		runs, err := reader.ListRuns(context.Background(), 5)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, model.RunSummary{
			ID: 2, Name: "nightly", Status: model.BuildStatusCompleted,
			Nodes: 10, RemovedEdges: 3, StartedAt: started,
		}, runs[0])
		assert.Equal(t, model.BuildStatusCyclic, runs[1].Status)
		assert.Equal(t, 9, runs[1].StartedAt.Hour())
	})

	t.Run("ListRuns_QueryError", func(t *testing.T) {
		mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection reset"))

		runs, err := reader.ListRuns(context.Background(), 5)
		assert.Nil(t, runs)
		assert.True(t, apperrors.IsDatabaseError(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLReportReader_RemovedEdges(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLReportReader(db, nil)
	rows := sqlmock.NewRows([]string{"from_method", "to_method", "kind"}).
		AddRow("Z.z()V", "X.x()V", model.EdgeKindCall).
		AddRow("B.b()V", "A.a()V", model.EdgeKindFieldRead)

	mock.ExpectQuery(`SELECT from_method, to_method, kind\s+FROM removed_edges\s+WHERE run_id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	edges, err := reader.RemovedEdges(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []model.RemovedEdge{
		{From: "Z.z()V", To: "X.x()V", Kind: model.EdgeKindCall},
		{From: "B.b()V", To: "A.a()V", Kind: model.EdgeKindFieldRead},
	}, edges)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLReportReader_Waves(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	reader := NewSQLReportReader(db, QuestionPlaceholder)

	t.Run("Waves_Grouped", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"wave", "method"}).
			AddRow(0, "Z.z()V").
			AddRow(0, "W.w()V").
			AddRow(1, "X.x()V")
		mock.ExpectQuery("SELECT wave, method").WithArgs(int64(3)).WillReturnRows(rows)

		waves, err := reader.Waves(context.Background(), 3)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"Z.z()V", "W.w()V"}, {"X.x()V"}}, waves)
	})

	t.Run("Waves_ScanError", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"wave", "method"}).AddRow("not-a-number", "X.x()V")
		mock.ExpectQuery("SELECT wave, method").WithArgs(int64(4)).WillReturnRows(rows)

		_, err := reader.Waves(context.Background(), 4)
		assert.True(t, apperrors.IsDatabaseError(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTimeValue_Scan(t *testing.T) {
	var v timeValue
	require.NoError(t, v.Scan([]byte("2026-01-02T03:04:05Z")))
	assert.Equal(t, 2026, v.Year())

	require.NoError(t, v.Scan(nil))
	assert.True(t, v.IsZero())

	assert.Error(t, v.Scan(42))
	assert.Error(t, v.Scan("yesterday"))
}
