// Package service runs the call-graph pipeline: load a program, build and
// order its graph, then report, persist, upload and export the result.
package service

import (
	"context"

	"github.com/ipo-callgraph/internal/callgraph"
	"github.com/ipo-callgraph/internal/graphdb"
	"github.com/ipo-callgraph/internal/repository"
	"github.com/ipo-callgraph/internal/storage"
	"github.com/ipo-callgraph/pkg/compression"
	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

// GraphExporter pushes a finished graph to a graph database.
type GraphExporter interface {
	Export(ctx context.Context, d *callgraph.Dump, waves [][]string) (graphdb.Stats, error)
}

// Service is the main application service.
type Service struct {
	config *config.Config
	logger utils.Logger
	loader Loader

	repos     *repository.Repositories
	builds    repository.BuildRepository
	publisher *storage.ArtifactPublisher
	exporter  GraphExporter
	closers   []func(context.Context) error
}

// Option configures a Service.
type Option func(*Service)

// WithLoader replaces the program loader.
func WithLoader(loader Loader) Option {
	return func(s *Service) {
		if loader != nil {
			s.loader = loader
		}
	}
}

// WithBuildRepository persists reports to repo.
func WithBuildRepository(repo repository.BuildRepository) Option {
	return func(s *Service) {
		s.builds = repo
	}
}

// WithStorage uploads dumps to store.
func WithStorage(store storage.Storage) Option {
	return func(s *Service) {
		if store == nil {
			return
		}
		c, err := compression.New(s.config.Storage.Compression)
		if err != nil {
			s.logger.Warn("Uploading dumps uncompressed: %v", err)
		}
		s.publisher = storage.NewArtifactPublisher(store, s.config.Storage.Prefix, storage.WithCompressor(c))
	}
}

// WithExporter exports graphs through exporter.
func WithExporter(exporter GraphExporter) Option {
	return func(s *Service) {
		s.exporter = exporter
	}
}

// New creates a new Service instance.
func New(cfg *config.Config, logger utils.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "config is nil")
	}
	if logger == nil {
		logger = utils.NewDefaultLogger(utils.LevelInfo, nil)
	}

	s := &Service{config: cfg, logger: logger}
	s.loader = DefaultLoader(logger)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// InitDatabase connects the report database and migrates it.
func (s *Service) InitDatabase() error {
	s.logger.Info("Connecting to database (%s)...", s.config.Database.Type)

	gormDB, err := repository.NewGormDB(&s.config.Database)
	if err != nil {
		return err
	}

	s.repos = repository.NewRepositories(gormDB, s.config.Database.Type)
	s.builds = s.repos.Build
	s.closers = append(s.closers, func(context.Context) error { return s.repos.Close() })
	s.logger.Info("Database connection established")
	return nil
}

// InitStorage initializes the artifact storage.
func (s *Service) InitStorage() error {
	s.logger.Info("Initializing storage (%s)...", s.config.Storage.Type)

	store, err := storage.NewStorage(&s.config.Storage)
	if err != nil {
		return err
	}

	WithStorage(store)(s)
	s.logger.Info("Storage initialized")
	return nil
}

// InitExporter connects to Neo4j and ensures its indexes.
func (s *Service) InitExporter(ctx context.Context) error {
	s.logger.Info("Connecting to neo4j at %s...", s.config.Neo4j.URI)

	exporter, err := graphdb.Connect(ctx, &s.config.Neo4j, s.logger)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, exporter.Close)

	if err := exporter.CreateIndexes(ctx); err != nil {
		return err
	}
	s.exporter = exporter
	return nil
}

// ClearGraph removes a previously exported graph when the exporter
// supports it.
func (s *Service) ClearGraph(ctx context.Context, graph string) error {
	c, ok := s.exporter.(interface {
		Clean(ctx context.Context, graph string) error
	})
	if !ok {
		return apperrors.New(apperrors.CodeConfigError, "the exporter cannot clear graphs")
	}
	return c.Clean(ctx, graph)
}

// Reader returns the report reader of the initialized database.
func (s *Service) Reader() (repository.ReportReader, error) {
	if s.repos == nil || s.repos.Reader == nil {
		return nil, apperrors.New(apperrors.CodeConfigError, "database is not initialized")
	}
	return s.repos.Reader, nil
}

// Builds returns the build repository, if any.
func (s *Service) Builds() repository.BuildRepository {
	return s.builds
}

// HealthCheck performs a health check on the service.
func (s *Service) HealthCheck(ctx context.Context) error {
	if s.repos != nil {
		if err := s.repos.HealthCheck(ctx); err != nil {
			return apperrors.Wrap(apperrors.CodeDatabaseError, "database health check failed", err)
		}
	}
	return nil
}

// Close releases the connections opened by the Init methods.
func (s *Service) Close(ctx context.Context) error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Error("Failed to close: %v", err)
			if first == nil {
				first = err
			}
		}
	}
	s.closers = nil
	return first
}
