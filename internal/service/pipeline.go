package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ipo-callgraph/internal/callgraph"
	"github.com/ipo-callgraph/internal/program"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
	"github.com/ipo-callgraph/pkg/utils"
)

// Request is one pipeline run.
type Request struct {
	// Name overrides the program name in reports and dumps.
	Name   string
	Source Source

	// RootsFirst orders waves callers first.
	RootsFirst bool

	// Formats lists the dumps to render ("dot", "json").
	Formats []string
	// OutputDir, when set, receives the rendered dumps.
	OutputDir string

	Upload  bool
	Persist bool
	Export  bool
	// ReplaceExport clears the exported graph of the same name first.
	ReplaceExport bool
}

// Result is the outcome of a successful run.
type Result struct {
	Report *model.BuildReport
	Dump   *callgraph.Dump
	Waves  [][]program.Method
	Timer  *utils.Timer
}

// Build runs the pipeline. A failed build still returns its report,
// persisted when requested, together with the build error.
func (s *Service) Build(ctx context.Context, req Request) (*Result, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}

	timer := utils.NewTimer("pipeline", utils.WithLogger(s.logger))
	report := model.NewBuildReport(req.Name, req.Source.Kind(), req.Source.Target())
	report.Status = model.BuildStatusRunning
	logger := s.logger.WithField("target", report.Target)
	failed := func(err error) (*Result, error) {
		return &Result{Report: report, Timer: timer}, s.fail(ctx, req, report, err)
	}

	pt := timer.Start("load")
	loaded, err := s.loader(ctx, req.Source)
	pt.Stop()
	if err != nil {
		return failed(err)
	}
	if report.Name == "" {
		report.Name = loaded.Name
	}
	logger.Info("Loaded %s", report.Name)

	opts := callgraph.OptionsFromConfig(s.config)
	builder := callgraph.NewBuilder(loaded.Program,
		callgraph.WithLogger(logger),
		callgraph.WithTimer(timer),
		callgraph.WithOptions(opts),
	)
	pt = timer.Start("build")
	graph, err := builder.BuildProgram(ctx)
	pt.Stop()
	if err != nil {
		return failed(err)
	}

	single, multi := callgraph.NewCallSiteInfo(graph,
		callgraph.CallSiteOptionsFor(loaded.Program, s.config.CallSite.ExcludeLibraryMethodOverrides)).Counts()
	dump := graph.Snapshot(report.Name)
	report.Stats = statsOf(dump, graph.CycleEliminationResult())
	report.Stats.SingleCallSites, report.Stats.MultiCallSites = single, multi
	for _, e := range dump.RemovedEdges {
		report.Removed = append(report.Removed, model.RemovedEdge{From: e.From, To: e.To, Kind: string(e.Kind)})
	}

	pt = timer.Start("order")
	waves, err := graph.Waves(!req.RootsFirst)
	pt.Stop()
	if err != nil {
		return failed(err)
	}
	report.Waves = waveNames(waves)
	logger.Info("Ordered %d methods into %d waves", report.Stats.Nodes, len(waves))

	pt = timer.Start("publish")
	err = s.publish(ctx, req, report, dump)
	pt.Stop()
	if err != nil {
		return failed(err)
	}

	report.Status = model.BuildStatusCompleted
	report.Duration = time.Since(report.StartedAt)
	if req.Persist {
		if _, err := s.builds.SaveReport(ctx, report); err != nil {
			return &Result{Report: report, Dump: dump, Waves: waves, Timer: timer}, err
		}
		logger.Info("Saved run %d", report.ID)
	}

	timer.PrintSummary()
	return &Result{Report: report, Dump: dump, Waves: waves, Timer: timer}, nil
}

func (s *Service) checkRequest(req Request) error {
	if err := req.Source.Validate(); err != nil {
		return err
	}
	if req.Persist && s.builds == nil {
		return apperrors.New(apperrors.CodeConfigError, "persisting a run needs a database")
	}
	if req.Upload && s.publisher == nil {
		return apperrors.New(apperrors.CodeConfigError, "uploading dumps needs a storage backend")
	}
	if req.Export && s.exporter == nil {
		return apperrors.New(apperrors.CodeConfigError, "exporting needs a neo4j connection")
	}
	for _, format := range req.Formats {
		if _, err := callgraph.NewDumpWriter(format); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid dump format", err)
		}
	}
	return nil
}

// publish renders the dumps, then writes, uploads and exports them.
func (s *Service) publish(ctx context.Context, req Request, report *model.BuildReport, dump *callgraph.Dump) error {
	for _, format := range req.Formats {
		dw, err := callgraph.NewDumpWriter(format)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidInput, "invalid dump format", err)
		}
		var buf bytes.Buffer
		if err := dw.Write(dump, &buf); err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "failed to render "+format, err)
		}

		if req.OutputDir != "" {
			path := filepath.Join(req.OutputDir, report.Name+"."+dw.Extension())
			if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
				return apperrors.Wrap(apperrors.CodeStorageError, "failed to create output directory", err)
			}
			if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
				return apperrors.Wrap(apperrors.CodeStorageError, "failed to write dump", err)
			}
			report.Artifacts = append(report.Artifacts, model.Artifact{Format: dw.Extension(), Location: path})
		}
		if req.Upload {
			artifact, err := s.publisher.Publish(ctx, report.Name, dw.Extension(), buf.Bytes())
			if err != nil {
				return err
			}
			report.Artifacts = append(report.Artifacts, artifact)
			s.logger.Info("Uploaded %s", artifact.Location)
		}
	}

	if req.Export {
		if req.ReplaceExport {
			if err := s.ClearGraph(ctx, dump.Name); err != nil {
				return err
			}
		}
		stats, err := s.exporter.Export(ctx, dump, report.Waves)
		if err != nil {
			return err
		}
		s.logger.Info("Exported %d methods to neo4j", stats.Methods)
	}
	return nil
}

// fail records err on the report and persists it when asked to.
func (s *Service) fail(ctx context.Context, req Request, report *model.BuildReport, err error) error {
	report.Fail(err, apperrors.IsCyclicForceInline(err))
	report.Duration = time.Since(report.StartedAt)
	s.logger.Error("Build of %s failed: %v", report.Target, err)

	if req.Persist && s.builds != nil {
		if _, saveErr := s.builds.SaveReport(ctx, report); saveErr != nil {
			s.logger.Warn("Failed to save failed run: %v", saveErr)
		}
	}
	return err
}

func statsOf(d *callgraph.Dump, result *callgraph.CycleEliminationResult) model.GraphStats {
	stats := model.GraphStats{Nodes: len(d.Nodes)}
	for _, e := range d.Edges {
		if e.Kind == callgraph.EdgeKindFieldRead {
			stats.FieldReadEdges++
		} else {
			stats.CallEdges++
		}
	}
	if result != nil {
		stats.RemovedCallEdges = result.NumberOfRemovedCallEdges()
		stats.RemovedFieldReadEdges = result.NumberOfRemovedFieldReadEdges()
		stats.Rounds = result.Rounds
	}
	return stats
}

func waveNames(waves [][]program.Method) [][]string {
	out := make([][]string, len(waves))
	for i, wave := range waves {
		out[i] = make([]string, len(wave))
		for j, m := range wave {
			out[i][j] = m.Ref.String()
		}
	}
	return out
}
