package callgraph

import (
	"sync"

	"github.com/ipo-callgraph/internal/program"
)

type dispatchKey struct {
	kind   program.InvokeKind
	target program.MethodRef
}

type dispatchResult struct {
	targets program.DispatchTargets
	ok      bool
}

// dispatchCache memoizes dispatch lookups across all population workers.
type dispatchCache struct {
	m sync.Map // dispatchKey -> dispatchResult
}

func (c *dispatchCache) lookup(resolver program.MethodResolver, kind program.InvokeKind, target program.MethodRef, context program.Method) dispatchResult {
	key := dispatchKey{kind: kind, target: target}
	if cached, ok := c.m.Load(key); ok {
		return cached.(dispatchResult)
	}
	targets, ok := resolver.LookupDispatchTargets(kind, target, context)
	actual, _ := c.m.LoadOrStore(key, dispatchResult{targets: targets, ok: ok})
	return actual.(dispatchResult)
}

// Discoverer turns the uses of one method body into edges. It is created
// per method and is not shared between goroutines; everything it points
// to is.
type Discoverer struct {
	prog     program.Program
	registry *Registry
	cache    *dispatchCache
	opts     *Options
	current  *Node
}

var _ program.UseRegistry = (*Discoverer)(nil)

func newDiscoverer(prog program.Program, registry *Registry, cache *dispatchCache, opts *Options, method program.Method) *Discoverer {
	return &Discoverer{
		prog:     prog,
		registry: registry,
		cache:    cache,
		opts:     opts,
		current:  registry.GetOrCreate(method),
	}
}

// RegisterInvoke handles a call instruction.
func (d *Discoverer) RegisterInvoke(kind program.InvokeKind, target program.MethodRef) {
	if kind.IsDynamicDispatch() {
		d.processDispatch(kind, target)
		return
	}

	callee, ok := d.prog.LookupSingleTarget(kind, target, d.current.method)
	if !ok {
		return
	}
	if kind == program.InvokeStatic {
		d.addClassInitializerTarget(callee.Ref.Holder)
	}
	d.addCallEdge(callee, false)
}

func (d *Discoverer) processDispatch(kind program.InvokeKind, target program.MethodRef) {
	result := d.cache.lookup(d.prog, kind, target, d.current.method)
	if !result.ok {
		return
	}
	if result.targets.LibraryHolder && !d.opts.AddCallEdgesForLibraryInvokes {
		return
	}
	likelySpurious := len(result.targets.Targets) >= d.opts.LikelySpuriousThreshold
	for _, callee := range result.targets.Targets {
		d.addCallEdge(callee, likelySpurious)
	}
}

// RegisterFieldRead handles a field load. A load of a field with a single
// known writer makes the current method depend on that writer.
func (d *Discoverer) RegisterFieldRead(field program.FieldRef) {
	info, ok := d.prog.ResolveField(field)
	if !ok || info.Pinned || !info.ProgramHolder {
		return
	}
	if info.Static {
		d.addClassInitializerTarget(field.Holder)
	}

	writerRef, ok := info.SingleWriter()
	if !ok {
		return
	}
	writer, ok := d.prog.Definition(writerRef)
	if !ok || !d.accepts(writer) {
		return
	}
	d.registry.GetOrCreate(writer).addReaderConcurrently(d.current)
}

// RegisterFieldWrite handles a field store.
func (d *Discoverer) RegisterFieldWrite(field program.FieldRef) {
	info, ok := d.prog.ResolveField(field)
	if !ok || !info.ProgramHolder || !info.Static {
		return
	}
	d.addClassInitializerTarget(field.Holder)
}

// RegisterNewInstance handles an allocation.
func (d *Discoverer) RegisterNewInstance(holder string) {
	d.addClassInitializerTarget(holder)
}

// RegisterInitClass handles an explicit class initialization.
func (d *Discoverer) RegisterInitClass(holder string) {
	d.addClassInitializerTarget(holder)
}

func (d *Discoverer) addClassInitializerTarget(holder string) {
	if clinit, ok := d.prog.ClassInitializer(holder); ok {
		d.addCallEdge(clinit, false)
	}
}

func (d *Discoverer) addCallEdge(callee program.Method, likelySpurious bool) {
	if callee.IsAbstract() || callee.IsNative() {
		return
	}
	if d.prog.IsPinned(callee.Ref) || !d.accepts(callee) {
		return
	}
	d.registry.GetOrCreate(callee).addCallerConcurrently(d.current, likelySpurious)
}

func (d *Discoverer) accepts(method program.Method) bool {
	return d.opts.TargetFilter == nil || d.opts.TargetFilter(method)
}
