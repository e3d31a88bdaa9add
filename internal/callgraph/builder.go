package callgraph

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/pkg/config"
	apperrors "github.com/ipo-callgraph/pkg/errors"
	"github.com/ipo-callgraph/pkg/parallel"
	"github.com/ipo-callgraph/pkg/telemetry"
	"github.com/ipo-callgraph/pkg/utils"
)

// DefaultLikelySpuriousThreshold is the number of dispatch targets from
// which a virtual call stops adding edges.
const DefaultLikelySpuriousThreshold = 50

// Options holds configuration options for the graph builder.
type Options struct {
	// LikelySpuriousThreshold is the dispatch fan-out at which call sites
	// are only counted.
	LikelySpuriousThreshold int

	// MaxDepthThreshold cuts removable edges below this traversal depth.
	// Zero disables the cut.
	MaxDepthThreshold int

	// AddCallEdgesForLibraryInvokes models virtual calls through library
	// receiver types.
	AddCallEdgesForLibraryInvokes bool

	// Verify runs the consistency checks after population and elimination.
	Verify bool

	// Nondeterministic shuffles the elimination order with Seed.
	Nondeterministic bool
	Seed             uint64

	// Pool configures population and wave processing.
	Pool parallel.PoolConfig

	// ProgressInterval enables population progress logging.
	ProgressInterval time.Duration

	// TargetFilter excludes methods from the graph altogether.
	TargetFilter func(program.Method) bool
}

// DefaultOptions returns default builder options.
func DefaultOptions() *Options {
	return &Options{
		LikelySpuriousThreshold: DefaultLikelySpuriousThreshold,
		Verify:                  true,
		Pool:                    parallel.DefaultPoolConfig(),
	}
}

// OptionsFromConfig maps the graph and workers sections of cfg.
func OptionsFromConfig(cfg *config.Config) *Options {
	opts := DefaultOptions()
	opts.LikelySpuriousThreshold = cfg.Graph.LikelySpuriousThreshold
	opts.MaxDepthThreshold = cfg.Graph.MaxDepthThreshold
	opts.AddCallEdgesForLibraryInvokes = cfg.Graph.AddCallEdgesForLibraryInvokes
	opts.Verify = cfg.Graph.Verify
	opts.Nondeterministic = cfg.Graph.Nondeterministic
	opts.Seed = cfg.Graph.Seed
	opts.Pool = opts.Pool.WithWorkers(cfg.Workers.MaxWorkers)
	opts.ProgressInterval = time.Duration(cfg.Workers.ProgressInterval) * time.Millisecond
	return opts
}

// Builder populates a graph from a program and makes it acyclic.
type Builder struct {
	prog   program.Program
	opts   *Options
	logger utils.Logger
	timer  *utils.Timer
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger sets the logger.
func WithLogger(logger utils.Logger) BuilderOption {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTimer records phase durations on timer.
func WithTimer(timer *utils.Timer) BuilderOption {
	return func(b *Builder) {
		if timer != nil {
			b.timer = timer
		}
	}
}

// WithOptions replaces the default options.
func WithOptions(opts *Options) BuilderOption {
	return func(b *Builder) {
		if opts != nil {
			b.opts = opts
		}
	}
}

// NewBuilder creates a builder for prog.
func NewBuilder(prog program.Program, opts ...BuilderOption) *Builder {
	b := &Builder{
		prog:   prog,
		opts:   DefaultOptions(),
		logger: &utils.NullLogger{},
		timer:  utils.NewTimer("callgraph", utils.WithEnabled(false)),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.opts.LikelySpuriousThreshold <= 0 {
		b.opts.LikelySpuriousThreshold = DefaultLikelySpuriousThreshold
	}
	return b
}

// BuildProgram builds the graph of every method the program enumerates.
func (b *Builder) BuildProgram(ctx context.Context) (*Graph, error) {
	return b.Build(ctx, b.prog.Methods())
}

// Build populates the graph of methods in parallel, then removes cycles.
// Methods without code are not part of the graph.
func (b *Builder) Build(ctx context.Context, methods []program.Method) (graph *Graph, err error) {
	ctx, span := telemetry.StartSpan(ctx, "callgraph.build", attribute.Int("methods", len(methods)))
	defer func() { telemetry.EndSpan(span, err) }()

	eligible := make([]program.Method, 0, len(methods))
	for _, m := range methods {
		if m.HasCode && (b.opts.TargetFilter == nil || b.opts.TargetFilter(m)) {
			eligible = append(eligible, m)
		}
	}

	registry, err := b.populate(ctx, eligible)
	if err != nil {
		return nil, err
	}

	graph = newGraph(registry.snapshot(), b.opts.Pool, b.logger)
	calls, reads := countEdges(graph)
	b.logger.Info("populated call graph: %d nodes, %d call edges, %d field read edges", graph.Len(), calls, reads)
	span.SetAttributes(attribute.Int("nodes", graph.Len()), attribute.Int("call_edges", calls), attribute.Int("field_read_edges", reads))

	if b.opts.Verify {
		if err := verifyAllMethodsHaveNodes(registry, eligible); err != nil {
			return nil, err
		}
		if err := verifyNoRedundantFieldReadEdges(graph); err != nil {
			return nil, err
		}
	}

	result, err := b.eliminateCycles(ctx, graph)
	if err != nil {
		return nil, err
	}
	graph.result = result
	b.logger.Info("removed %d call edges and %d field read edges in %d rounds",
		result.NumberOfRemovedCallEdges(), result.NumberOfRemovedFieldReadEdges(), result.Rounds)

	if b.opts.Verify {
		if err := b.verifyAcyclic(ctx, graph); err != nil {
			return nil, err
		}
	}
	return graph, nil
}

func (b *Builder) populate(ctx context.Context, methods []program.Method) (registry *Registry, err error) {
	ctx, span := telemetry.StartSpan(ctx, "callgraph.populate", attribute.Int("methods", len(methods)))
	defer func() { telemetry.EndSpan(span, err) }()
	defer b.timer.Start("populate").Stop()

	registry = NewRegistry(len(methods))
	cache := &dispatchCache{}

	var tracker *parallel.ProgressTracker
	if b.opts.ProgressInterval > 0 {
		tracker = parallel.NewProgressTracker(int64(len(methods)), func(completed, total int64) {
			b.logger.Info("scanned %d/%d methods", completed, total)
		}, b.opts.ProgressInterval)
		tracker.Start(ctx)
		defer tracker.Stop()
	}

	err = parallel.ForEach(ctx, b.opts.Pool, methods, func(ctx context.Context, m program.Method) error {
		discoverer := newDiscoverer(b.prog, registry, cache, b.opts, m)
		if err := b.prog.Scan(ctx, m, discoverer); err != nil {
			return apperrors.Wrap(apperrors.CodeTaskFailed, "scan "+m.Ref.String(), err)
		}
		if tracker != nil {
			tracker.Increment()
		}
		return nil
	})
	if err != nil {
		var panicErr *parallel.PanicError
		if errors.As(err, &panicErr) {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "population worker panicked", err)
		}
		return nil, err
	}
	return registry, nil
}

func (b *Builder) eliminateCycles(ctx context.Context, graph *Graph) (result *CycleEliminationResult, err error) {
	_, span := telemetry.StartSpan(ctx, "callgraph.eliminate_cycles", attribute.Int("nodes", graph.Len()))
	defer func() { telemetry.EndSpan(span, err) }()
	defer b.timer.Start("eliminate").Stop()

	opts := EliminatorOptions{MaxDepthThreshold: b.opts.MaxDepthThreshold, Logger: b.logger}
	if b.opts.Nondeterministic {
		opts.Rand = rand.New(rand.NewPCG(b.opts.Seed, b.opts.Seed^0x9e3779b97f4a7c15))
	}
	result, err = NewCycleEliminator(graph, b.prog.IsForceInlined, opts).BreakCycles()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("removed_call_edges", result.NumberOfRemovedCallEdges()),
		attribute.Int("removed_field_read_edges", result.NumberOfRemovedFieldReadEdges()),
		attribute.Int("rounds", result.Rounds),
	)
	return result, nil
}

// verifyAcyclic runs a second elimination, which must find nothing.
func (b *Builder) verifyAcyclic(ctx context.Context, graph *Graph) (err error) {
	_, span := telemetry.StartSpan(ctx, "callgraph.verify")
	defer func() { telemetry.EndSpan(span, err) }()
	defer b.timer.Start("verify").Stop()

	again, err := NewCycleEliminator(graph, b.prog.IsForceInlined, EliminatorOptions{}).BreakCycles()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "verification pass failed", err)
	}
	if n := again.NumberOfRemovedEdges(); n != 0 {
		return apperrors.Internal("graph still cyclic after elimination: second pass removed %d edges", n)
	}
	return nil
}

func verifyAllMethodsHaveNodes(registry *Registry, methods []program.Method) error {
	for _, m := range methods {
		if _, ok := registry.Lookup(m.Ref); !ok {
			return apperrors.Internal("missing node for %s", m.Ref)
		}
	}
	return nil
}

func verifyNoRedundantFieldReadEdges(graph *Graph) error {
	for _, n := range graph.nodes {
		for writer := range n.writers {
			if n.callees.has(writer) {
				return apperrors.Internal("field read edge %s -> %s duplicates a call edge", n, graph.nodes[writer])
			}
		}
	}
	return nil
}

func countEdges(graph *Graph) (calls, reads int) {
	for _, n := range graph.nodes {
		calls += len(n.callees)
		reads += len(n.writers)
	}
	return calls, reads
}
