package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ipo-callgraph/internal/callgraph"
	"github.com/ipo-callgraph/internal/graphdb"
	ipomock "github.com/ipo-callgraph/internal/mock"
	"github.com/ipo-callgraph/internal/testutil"
	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
	"github.com/ipo-callgraph/pkg/utils"
)

type fakeExporter struct {
	dump  *callgraph.Dump
	waves [][]string
	err   error
}

func (f *fakeExporter) Export(_ context.Context, d *callgraph.Dump, waves [][]string) (graphdb.Stats, error) {
	f.dump, f.waves = d, waves
	return graphdb.Stats{Methods: len(d.Nodes)}, f.err
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc, err := New(config.Default(), &utils.NullLogger{}, opts...)
	require.NoError(t, err)
	return svc
}

func manifestSource(t *testing.T, name string) Source {
	return Source{Manifest: testutil.GetTestDataPath(t, name)}
}

func TestService_New(t *testing.T) {
	_, err := New(nil, nil)
	assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))

	svc, err := New(config.Default(), nil)
	require.NoError(t, err)
	assert.Nil(t, svc.Builds())
	_, err = svc.Reader()
	assert.Error(t, err)
	assert.NoError(t, svc.HealthCheck(context.Background()))
	assert.NoError(t, svc.Close(context.Background()))
}

func TestService_Build_ScenarioA(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Build(context.Background(), Request{Source: manifestSource(t, "scenario_a.yaml")})
	require.NoError(t, err)

	report := result.Report
	assert.Equal(t, "scenario-a", report.Name)
	assert.Equal(t, model.SourceManifest, report.Source)
	assert.Equal(t, model.BuildStatusCompleted, report.Status)
	assert.Equal(t, 3, report.Stats.Nodes)
	assert.Equal(t, 2, report.Stats.CallEdges)
	assert.Equal(t, 1, report.Stats.RemovedCallEdges)
	assert.Equal(t, []model.RemovedEdge{{From: "Z.z()V", To: "X.x()V", Kind: model.EdgeKindCall}}, report.Removed)
	assert.Equal(t, [][]string{{"Z.z()V"}, {"Y.y()V"}, {"X.x()V"}}, report.Waves)
	assert.Len(t, result.Waves, 3)
	assert.Equal(t, "scenario-a", result.Dump.Name)
	assert.Empty(t, report.Artifacts)
}

func TestService_Build_RootsFirst(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Build(context.Background(), Request{
		Name:       "roots",
		Source:     manifestSource(t, "scenario_a.yaml"),
		RootsFirst: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "roots", result.Report.Name)
	assert.Equal(t, [][]string{{"X.x()V"}, {"Y.y()V"}, {"Z.z()V"}}, result.Report.Waves)
}

func TestService_Build_CyclicForceInlining(t *testing.T) {
	repo := &ipomock.MockBuildRepository{}
	repo.On("SaveReport", mock.Anything, mock.MatchedBy(func(r *model.BuildReport) bool {
		return r.Status == model.BuildStatusCyclic
	})).Return(int64(9), nil).Once()

	svc := newTestService(t, WithBuildRepository(repo))
	result, err := svc.Build(context.Background(), Request{Source: manifestSource(t, "scenario_c.yaml"), Persist: true})

	require.Error(t, err)
	assert.True(t, apperrors.IsCyclicForceInline(err))
	require.NotNil(t, result)
	assert.Equal(t, model.BuildStatusCyclic, result.Report.Status)
	assert.Contains(t, result.Report.StatusInfo, "cyclic force inlining")
	repo.AssertExpectations(t)
}

func TestService_Build_PersistUploadExport(t *testing.T) {
	repo := &ipomock.MockBuildRepository{}
	repo.ExpectSaveReport(42, nil)

	store := &ipomock.MockStorage{}
	store.ExpectAnyUpload(nil)

	exporter := &fakeExporter{}
	svc := newTestService(t, WithBuildRepository(repo), WithStorage(store), WithExporter(exporter))
	out := t.TempDir()

	result, err := svc.Build(context.Background(), Request{
		Source:    manifestSource(t, "scenario_a.yaml"),
		Formats:   []string{"dot", "json"},
		OutputDir: out,
		Upload:    true,
		Persist:   true,
		Export:    true,
	})
	require.NoError(t, err)

	artifacts := result.Report.Artifacts
	require.Len(t, artifacts, 4)
	assert.Equal(t, model.Artifact{Format: "dot", Location: filepath.Join(out, "scenario-a.dot")}, artifacts[0])
	assert.True(t, strings.HasPrefix(artifacts[1].Location, "mock://callgraph/scenario-a/"), artifacts[1].Location)
	assert.Equal(t, "json", artifacts[3].Format)

	dot, err := os.ReadFile(filepath.Join(out, "scenario-a.dot"))
	require.NoError(t, err)
	assert.Contains(t, string(dot), `digraph "scenario-a" {`)

	store.AssertNumberOfCalls(t, "Upload", 2)
	store.AssertCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, "text/vnd.graphviz")
	repo.AssertExpectations(t)
	require.NotNil(t, exporter.dump)
	assert.Equal(t, result.Report.Waves, exporter.waves)
}

func TestService_Build_ExportFailure(t *testing.T) {
	exporter := &fakeExporter{err: apperrors.New(apperrors.CodeExportError, "neo4j unavailable")}
	svc := newTestService(t, WithExporter(exporter))

	result, err := svc.Build(context.Background(), Request{Source: manifestSource(t, "scenario_a.yaml"), Export: true})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeExportError, apperrors.GetErrorCode(err))
	assert.Equal(t, model.BuildStatusFailed, result.Report.Status)
}

func TestService_Build_RequestChecks(t *testing.T) {
	svc := newTestService(t)
	src := manifestSource(t, "scenario_a.yaml")
	ctx := context.Background()

	for name, req := range map[string]Request{
		"persist": {Source: src, Persist: true},
		"upload":  {Source: src, Upload: true},
		"export":  {Source: src, Export: true},
	} {
		_, err := svc.Build(ctx, req)
		assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err), name)
	}

	_, err := svc.Build(ctx, Request{Source: src, Formats: []string{"svg"}})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))

	_, err = svc.Build(ctx, Request{Source: Source{Manifest: "a.yaml", Packages: []string{"./..."}}})
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}

func TestService_Build_LoaderError(t *testing.T) {
	svc := newTestService(t, WithLoader(func(context.Context, Source) (*Loaded, error) {
		return nil, errors.New("no such package")
	}))

	result, err := svc.Build(context.Background(), Request{Source: Source{Packages: []string{"./missing"}}})
	assert.EqualError(t, err, "no such package")
	assert.Equal(t, model.SourceGo, result.Report.Source)
	assert.Equal(t, model.BuildStatusFailed, result.Report.Status)
}

func TestService_InitStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.LocalPath = t.TempDir()
	svc, err := New(cfg, &utils.NullLogger{})
	require.NoError(t, err)
	require.NoError(t, svc.InitStorage())

	result, err := svc.Build(context.Background(), Request{
		Source:  manifestSource(t, "scenario_d.yaml"),
		Formats: []string{"json"},
		Upload:  true,
	})
	require.NoError(t, err)
	require.Len(t, result.Report.Artifacts, 1)
	_, err = os.Stat(result.Report.Artifacts[0].Location)
	assert.NoError(t, err)
}

func TestService_InitDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "runs.db")
	svc, err := New(cfg, &utils.NullLogger{})
	require.NoError(t, err)
	require.NoError(t, svc.InitDatabase())
	defer svc.Close(context.Background())

	result, err := svc.Build(context.Background(), Request{Source: manifestSource(t, "scenario_a.yaml"), Persist: true})
	require.NoError(t, err)
	assert.NotZero(t, result.Report.ID)

	reader, err := svc.Reader()
	require.NoError(t, err)
	runs, err := reader.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "scenario-a", runs[0].Name)
	assert.NoError(t, svc.HealthCheck(context.Background()))
}

func TestSource(t *testing.T) {
	assert.Equal(t, model.SourceManifest, Source{Manifest: "p.yaml"}.Kind())
	assert.Equal(t, "p.yaml", Source{Manifest: "p.yaml"}.Target())
	assert.Equal(t, model.SourceGo, Source{}.Kind())
	assert.Equal(t, "./...", Source{}.Target())
	assert.Equal(t, "/src/app: ./cmd/... ./internal/...", Source{Dir: "/src/app", Packages: []string{"./cmd/...", "./internal/..."}}.Target())
}

type cleaningExporter struct {
	fakeExporter
	cleaned []string
}

func (c *cleaningExporter) Clean(_ context.Context, graph string) error {
	c.cleaned = append(c.cleaned, graph)
	return nil
}

func TestService_ClearGraph(t *testing.T) {
	exporter := &cleaningExporter{}
	svc := newTestService(t, WithExporter(exporter))
	require.NoError(t, svc.ClearGraph(context.Background(), "scenario-a"))
	assert.Equal(t, []string{"scenario-a"}, exporter.cleaned)

	svc = newTestService(t, WithExporter(&fakeExporter{}))
	assert.Error(t, svc.ClearGraph(context.Background(), "scenario-a"))
}

func TestService_Build_ReplaceExport(t *testing.T) {
	exporter := &cleaningExporter{}
	svc := newTestService(t, WithExporter(exporter))

	_, err := svc.Build(context.Background(), Request{
		Source:        manifestSource(t, "scenario_b.yaml"),
		Export:        true,
		ReplaceExport: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"scenario-b"}, exporter.cleaned)
	require.NotNil(t, exporter.dump)
	assert.Equal(t, "scenario-b", exporter.dump.Name)
}
