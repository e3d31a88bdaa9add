// Package repository persists build reports.
package repository

import (
	"context"

	"github.com/ipo-callgraph/pkg/model"
)

// BuildRepository stores build runs with their removed edges and waves.
type BuildRepository interface {
	// SaveReport stores report and returns its run ID.
	SaveReport(ctx context.Context, report *model.BuildReport) (int64, error)

	// UpdateStatus updates the status of a run.
	UpdateStatus(ctx context.Context, id int64, status model.BuildStatus, info string) error

	// GetReport retrieves a run with its removed edges and waves.
	GetReport(ctx context.Context, id int64) (*model.BuildReport, error)

	// LatestReport retrieves the most recent run of name.
	LatestReport(ctx context.Context, name string) (*model.BuildReport, error)
}

// ReportReader answers listing queries over stored runs.
type ReportReader interface {
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	// RemovedEdges returns the edges removed in a run.
	RemovedEdges(ctx context.Context, runID int64) ([]model.RemovedEdge, error)

	// Waves returns the leaves-first waves of a run.
	Waves(ctx context.Context, runID int64) ([][]string, error)
}
