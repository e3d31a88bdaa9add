package service

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ipo-callgraph/internal/frontend/gossa"
	"github.com/ipo-callgraph/internal/program"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/model"
	"github.com/ipo-callgraph/pkg/utils"
)

// Source names the program to build: a manifest file, or Go packages.
type Source struct {
	Manifest string
	Packages []string
	Dir      string
	Tests    bool
}

// Kind returns the frontend the source is loaded with.
func (s Source) Kind() model.SourceKind {
	if s.Manifest != "" {
		return model.SourceManifest
	}
	return model.SourceGo
}

// Target describes the source in reports.
func (s Source) Target() string {
	if s.Manifest != "" {
		return s.Manifest
	}
	patterns := s.Packages
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}
	target := strings.Join(patterns, " ")
	if s.Dir != "" {
		target = s.Dir + ": " + target
	}
	return target
}

// Validate rejects sources naming both frontends.
func (s Source) Validate() error {
	if s.Manifest != "" && len(s.Packages) > 0 {
		return apperrors.New(apperrors.CodeInvalidInput, "a manifest and packages are mutually exclusive")
	}
	return nil
}

// Loaded is a loaded program with its display name.
type Loaded struct {
	Program program.Program
	Name    string
}

// Loader loads the program of a source.
type Loader func(ctx context.Context, src Source) (*Loaded, error)

// DefaultLoader loads manifests with the manifest frontend and packages
// with the SSA frontend.
func DefaultLoader(logger utils.Logger) Loader {
	return func(ctx context.Context, src Source) (*Loaded, error) {
		if err := src.Validate(); err != nil {
			return nil, err
		}
		if src.Manifest != "" {
			m, err := program.LoadManifest(src.Manifest)
			if err != nil {
				return nil, err
			}
			name := m.Name()
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(src.Manifest), filepath.Ext(src.Manifest))
			}
			return &Loaded{Program: m, Name: name}, nil
		}

		p, err := gossa.Load(ctx, gossa.LoadConfig{
			Dir:      src.Dir,
			Patterns: src.Packages,
			Tests:    src.Tests,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		name := filepath.Base(src.Dir)
		if src.Dir == "" || name == "." {
			name = "go"
		}
		return &Loaded{Program: p, Name: name}, nil
	}
}
