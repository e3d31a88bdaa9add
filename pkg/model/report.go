// Package model defines the build reports shared by the pipeline, the
// report store and the CLI.
package model

import (
	"time"
)

// SourceKind is the frontend a program was loaded with.
type SourceKind string

const (
	SourceManifest SourceKind = "manifest"
	SourceGo       SourceKind = "go"
)

// BuildStatus represents the status of a build run.
type BuildStatus int

const (
	BuildStatusPending   BuildStatus = 0 // Not started
	BuildStatusRunning   BuildStatus = 1 // Running
	BuildStatusCompleted BuildStatus = 2 // Completed
	BuildStatusFailed    BuildStatus = 3 // Failed
	BuildStatusCyclic    BuildStatus = 4 // Cyclic force inlining
)

// String returns the string representation of BuildStatus.
func (s BuildStatus) String() string {
	switch s {
	case BuildStatusPending:
		return "pending"
	case BuildStatusRunning:
		return "running"
	case BuildStatusCompleted:
		return "completed"
	case BuildStatusFailed:
		return "failed"
	case BuildStatusCyclic:
		return "cyclic"
	default:
		return "unknown"
	}
}

// IsFinal reports whether the run has ended.
func (s BuildStatus) IsFinal() bool {
	return s == BuildStatusCompleted || s == BuildStatusFailed || s == BuildStatusCyclic
}

// Edge kinds as stored in reports.
const (
	EdgeKindCall      = "call"
	EdgeKindFieldRead = "field-read"
)

// RemovedEdge is an edge cycle elimination removed.
type RemovedEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Artifact is an uploaded dump.
type Artifact struct {
	Format   string `json:"format"`
	Location string `json:"location"`
}

// GraphStats summarizes a graph after cycle elimination.
type GraphStats struct {
	Nodes                 int `json:"nodes"`
	CallEdges             int `json:"call_edges"`
	FieldReadEdges        int `json:"field_read_edges"`
	RemovedCallEdges      int `json:"removed_call_edges"`
	RemovedFieldReadEdges int `json:"removed_field_read_edges"`
	Rounds                int `json:"rounds"`
	SingleCallSites       int `json:"single_call_sites"`
	MultiCallSites        int `json:"multi_call_sites"`
}

// RemovedEdges returns the total number of removed edges.
func (s GraphStats) RemovedEdges() int {
	return s.RemovedCallEdges + s.RemovedFieldReadEdges
}

// BuildReport is the outcome of one pipeline run.
type BuildReport struct {
	ID         int64         `json:"id,omitempty"`
	Name       string        `json:"name"`
	Source     SourceKind    `json:"source"`
	Target     string        `json:"target"`
	Status     BuildStatus   `json:"status"`
	StatusInfo string        `json:"status_info,omitempty"`
	Stats      GraphStats    `json:"stats"`
	Removed    []RemovedEdge `json:"removed,omitempty"`
	Waves      [][]string    `json:"waves,omitempty"`
	Artifacts  []Artifact    `json:"artifacts,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// NewBuildReport creates a pending report.
func NewBuildReport(name string, source SourceKind, target string) *BuildReport {
	return &BuildReport{
		Name:      name,
		Source:    source,
		Target:    target,
		Status:    BuildStatusPending,
		StartedAt: time.Now(),
	}
}

// Fail marks the report failed with err, or cyclic when cyclic is set.
func (r *BuildReport) Fail(err error, cyclic bool) {
	r.Status = BuildStatusFailed
	if cyclic {
		r.Status = BuildStatusCyclic
	}
	if err != nil {
		r.StatusInfo = err.Error()
	}
}

// WaveCount returns the number of waves.
func (r *BuildReport) WaveCount() int {
	return len(r.Waves)
}

// RunSummary is one row of a run listing.
type RunSummary struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Status       BuildStatus `json:"status"`
	Nodes        int         `json:"nodes"`
	RemovedEdges int         `json:"removed_edges"`
	StartedAt    time.Time   `json:"started_at"`
}
