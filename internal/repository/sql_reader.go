package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
)

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// QuestionPlaceholder is used by MySQL and SQLite.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder is used by PostgreSQL.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// PlaceholderFor returns the bind style of dbType.
func PlaceholderFor(dbType string) Placeholder {
	switch DBType(dbType) {
	case DBTypePostgres, DBType("postgresql"):
		return DollarPlaceholder
	default:
		return QuestionPlaceholder
	}
}

// SQLReportReader implements ReportReader with plain SQL so listings stay
// cheap on large runs.
type SQLReportReader struct {
	db *sql.DB
	ph Placeholder
}

// NewSQLReportReader creates a reader over db.
func NewSQLReportReader(db *sql.DB, ph Placeholder) *SQLReportReader {
	if ph == nil {
		ph = QuestionPlaceholder
	}
	return &SQLReportReader{db: db, ph: ph}
}

// ListRuns returns the most recent runs, newest first.
func (r *SQLReportReader) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	query := fmt.Sprintf(`
		SELECT id, COALESCE(name, ''), status, nodes,
			   removed_call_edges + removed_field_read_edges, started_at
		FROM build_runs
		ORDER BY id DESC
		LIMIT %s
	`, r.ph(1))

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query runs", err)
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var (
			s       model.RunSummary
			started timeValue
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Status, &s.Nodes, &s.RemovedEdges, &started); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan run", err)
		}
		s.StartedAt = started.Time
		runs = append(runs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to iterate runs", err)
	}
	return runs, nil
}

// RemovedEdges returns the edges removed in a run in removal order.
func (r *SQLReportReader) RemovedEdges(ctx context.Context, runID int64) ([]model.RemovedEdge, error) {
	query := fmt.Sprintf(`
		SELECT from_method, to_method, kind
		FROM removed_edges
		WHERE run_id = %s
		ORDER BY seq
	`, r.ph(1))

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query removed edges", err)
	}
	defer rows.Close()

	var edges []model.RemovedEdge
	for rows.Next() {
		var e model.RemovedEdge
		if err := rows.Scan(&e.From, &e.To, &e.Kind); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan removed edge", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to iterate removed edges", err)
	}
	return edges, nil
}

// Waves returns the leaves-first waves of a run.
func (r *SQLReportReader) Waves(ctx context.Context, runID int64) ([][]string, error) {
	query := fmt.Sprintf(`
		SELECT wave, method
		FROM waves
		WHERE run_id = %s
		ORDER BY wave, seq
	`, r.ph(1))

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query waves", err)
	}
	defer rows.Close()

	var entries []WaveEntry
	for rows.Next() {
		var e WaveEntry
		if err := rows.Scan(&e.Wave, &e.Method); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan wave", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to iterate waves", err)
	}
	return groupWaves(entries), nil
}

// Close closes the underlying connection.
func (r *SQLReportReader) Close() error {
	return r.db.Close()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// timeValue scans timestamps that drivers return either as time.Time or
// as text.
type timeValue struct {
	time.Time
}

func (t *timeValue) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("unsupported timestamp type %T", value)
	}
}

func (t *timeValue) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
