package repository

import (
	"database/sql"

	_ "modernc.org/sqlite"

	apperrors "github.com/ipo-callgraph/pkg/errors"
)

// OpenSQLiteReader opens a report database file written by a sqlite
// build repository. It uses the pure-Go driver so report listing works
// in binaries built without cgo.
func OpenSQLiteReader(path string) (*SQLReportReader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open report database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open report database", err)
	}
	return NewSQLReportReader(db, QuestionPlaceholder), nil
}
