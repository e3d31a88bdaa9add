package gossa

import (
	"context"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/utils"
)

// LoadConfig selects the packages to load.
type LoadConfig struct {
	// Dir is the directory patterns are resolved in.
	Dir      string
	Patterns []string
	Tests    bool
	Logger   utils.Logger
}

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedImports | packages.NeedDeps | packages.NeedTypes |
	packages.NeedSyntax | packages.NeedTypesInfo | packages.NeedTypesSizes

// Load type-checks the packages matching cfg.Patterns, builds their SSA
// form and indexes them. Packages with errors are skipped with a warning.
func Load(ctx context.Context, cfg LoadConfig) (*Program, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = []string{"./..."}
	}

	logger.Info("Loading packages %v from %s", patterns, cfg.Dir)
	pkgs, err := packages.Load(&packages.Config{
		Context: ctx,
		Dir:     cfg.Dir,
		Mode:    loadMode,
		Tests:   cfg.Tests,
	}, patterns...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFrontendError, "failed to load packages", err)
	}

	broken := 0
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, e := range pkg.Errors {
			broken++
			logger.Warn("Package %s: %v", pkg.PkgPath, e)
		}
	})
	if broken > 0 {
		logger.Warn("%d package errors, continuing with the well-typed packages", broken)
	}

	prog, ssaPkgs := ssautil.AllPackages(pkgs, ssa.InstantiateGenerics)
	prog.Build()

	built := make([]*ssa.Package, 0, len(ssaPkgs))
	for _, p := range ssaPkgs {
		if p != nil {
			built = append(built, p)
		}
	}
	if len(built) == 0 {
		return nil, apperrors.Newf(apperrors.CodeFrontendError, "no well-typed packages match %v", patterns)
	}
	return New(prog, built, logger), nil
}
