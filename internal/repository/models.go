package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/ipo-callgraph/pkg/model"
)

// BuildRun represents the build_runs table.
type BuildRun struct {
	ID                    int64             `gorm:"column:id;primaryKey;autoIncrement"`
	Name                  string            `gorm:"column:name;type:varchar(256);index"`
	Source                string            `gorm:"column:source;type:varchar(32)"`
	Target                string            `gorm:"column:target;type:varchar(1024)"`
	Status                model.BuildStatus `gorm:"column:status"`
	StatusInfo            string            `gorm:"column:status_info;type:text"`
	Nodes                 int               `gorm:"column:nodes"`
	CallEdges             int               `gorm:"column:call_edges"`
	FieldReadEdges        int               `gorm:"column:field_read_edges"`
	RemovedCallEdges      int               `gorm:"column:removed_call_edges"`
	RemovedFieldReadEdges int               `gorm:"column:removed_field_read_edges"`
	Rounds                int               `gorm:"column:rounds"`
	SingleCallSites       int               `gorm:"column:single_call_sites"`
	MultiCallSites        int               `gorm:"column:multi_call_sites"`
	Artifacts             JSONField         `gorm:"column:artifacts;type:json"`
	StartedAt             time.Time         `gorm:"column:started_at"`
	DurationMS            int64             `gorm:"column:duration_ms"`
	CreateTime            time.Time         `gorm:"column:create_time;autoCreateTime"`

	RemovedEdges []RemovedEdgeRecord `gorm:"foreignKey:RunID"`
	Waves        []WaveEntry         `gorm:"foreignKey:RunID"`
}

// TableName returns the table name for BuildRun.
func (BuildRun) TableName() string {
	return "build_runs"
}

// RemovedEdgeRecord represents the removed_edges table.
type RemovedEdgeRecord struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID int64  `gorm:"column:run_id;index"`
	Seq   int    `gorm:"column:seq"`
	From  string `gorm:"column:from_method;type:varchar(1024)"`
	To    string `gorm:"column:to_method;type:varchar(1024)"`
	Kind  string `gorm:"column:kind;type:varchar(16)"`
}

// TableName returns the table name for RemovedEdgeRecord.
func (RemovedEdgeRecord) TableName() string {
	return "removed_edges"
}

// WaveEntry represents the waves table: one row per method and wave.
type WaveEntry struct {
	ID     int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID  int64  `gorm:"column:run_id;index"`
	Wave   int    `gorm:"column:wave"`
	Seq    int    `gorm:"column:seq"`
	Method string `gorm:"column:method;type:varchar(1024)"`
}

// TableName returns the table name for WaveEntry.
func (WaveEntry) TableName() string {
	return "waves"
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{&BuildRun{}, &RemovedEdgeRecord{}, &WaveEntry{}}
}

// NewBuildRun converts a report into its records.
func NewBuildRun(r *model.BuildReport) (*BuildRun, error) {
	artifacts, err := json.Marshal(r.Artifacts)
	if err != nil {
		return nil, err
	}
	run := &BuildRun{
		ID:                    r.ID,
		Name:                  r.Name,
		Source:                string(r.Source),
		Target:                r.Target,
		Status:                r.Status,
		StatusInfo:            r.StatusInfo,
		Nodes:                 r.Stats.Nodes,
		CallEdges:             r.Stats.CallEdges,
		FieldReadEdges:        r.Stats.FieldReadEdges,
		RemovedCallEdges:      r.Stats.RemovedCallEdges,
		RemovedFieldReadEdges: r.Stats.RemovedFieldReadEdges,
		Rounds:                r.Stats.Rounds,
		SingleCallSites:       r.Stats.SingleCallSites,
		MultiCallSites:        r.Stats.MultiCallSites,
		Artifacts:             artifacts,
		StartedAt:             r.StartedAt,
		DurationMS:            r.Duration.Milliseconds(),
	}
	for i, e := range r.Removed {
		run.RemovedEdges = append(run.RemovedEdges, RemovedEdgeRecord{Seq: i, From: e.From, To: e.To, Kind: e.Kind})
	}
	for wave, methods := range r.Waves {
		for i, m := range methods {
			run.Waves = append(run.Waves, WaveEntry{Wave: wave, Seq: i, Method: m})
		}
	}
	return run, nil
}

// ToModel converts BuildRun to model.BuildReport. Removed edges and
// waves must be loaded in seq order.
func (r *BuildRun) ToModel() (*model.BuildReport, error) {
	report := &model.BuildReport{
		ID:         r.ID,
		Name:       r.Name,
		Source:     model.SourceKind(r.Source),
		Target:     r.Target,
		Status:     r.Status,
		StatusInfo: r.StatusInfo,
		Stats: model.GraphStats{
			Nodes:                 r.Nodes,
			CallEdges:             r.CallEdges,
			FieldReadEdges:        r.FieldReadEdges,
			RemovedCallEdges:      r.RemovedCallEdges,
			RemovedFieldReadEdges: r.RemovedFieldReadEdges,
			Rounds:                r.Rounds,
			SingleCallSites:       r.SingleCallSites,
			MultiCallSites:        r.MultiCallSites,
		},
		StartedAt: r.StartedAt,
		Duration:  time.Duration(r.DurationMS) * time.Millisecond,
	}

	if r.Artifacts != nil {
		if err := json.Unmarshal(r.Artifacts, &report.Artifacts); err != nil {
			return nil, err
		}
	}
	for _, e := range r.RemovedEdges {
		report.Removed = append(report.Removed, model.RemovedEdge{From: e.From, To: e.To, Kind: e.Kind})
	}
	report.Waves = groupWaves(r.Waves)
	return report, nil
}

func groupWaves(entries []WaveEntry) [][]string {
	var waves [][]string
	for _, e := range entries {
		for len(waves) <= e.Wave {
			waves = append(waves, nil)
		}
		waves[e.Wave] = append(waves[e.Wave], e.Method)
	}
	return waves
}

// JSONField is a custom type for handling JSON fields in GORM.
type JSONField []byte

// Value implements driver.Valuer interface.
func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements sql.Scanner interface.
func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("unsupported type for JSONField")
	}
}

// MarshalJSON implements json.Marshaler interface.
func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler interface.
func (j *JSONField) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}
