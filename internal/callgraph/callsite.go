package callgraph

import (
	"sync"

	"github.com/ipo-callgraph/internal/program"
)

// CallSiteInfo tells the inliner which methods are called from one or
// from several call sites.
type CallSiteInfo interface {
	HasSingleCallSite(ref program.MethodRef) bool
	IsMultiCallerCandidate(ref program.MethodRef) bool
	// Unset forgets the classification of ref, e.g. after ref was inlined
	// into one of its callers.
	Unset(ref program.MethodRef)
}

// CallSiteOptions selects which methods are classified at all.
type CallSiteOptions struct {
	Pinned                        func(program.MethodRef) bool
	ExcludeLibraryMethodOverrides bool
	CompatInstantiated            func(holder string) bool
}

// CallSiteOptionsFor derives the options from a program. Compat
// instantiation is only known when prog implements
// program.CompatibilityOracle.
func CallSiteOptionsFor(prog program.Program, excludeLibraryMethodOverrides bool) CallSiteOptions {
	opts := CallSiteOptions{
		Pinned:                        prog.IsPinned,
		ExcludeLibraryMethodOverrides: excludeLibraryMethodOverrides,
	}
	if compat, ok := prog.(program.CompatibilityOracle); ok {
		opts.CompatInstantiated = compat.IsCompatInstantiated
	}
	return opts
}

// GraphCallSiteInfo is the CallSiteInfo computed from a populated graph.
type GraphCallSiteInfo struct {
	mu     sync.RWMutex
	single map[program.MethodRef]struct{}
	multi  map[program.MethodRef]struct{}
}

var _ CallSiteInfo = (*GraphCallSiteInfo)(nil)

// NewCallSiteInfo classifies every node of g by its call-site count. It
// must be called before any extraction.
func NewCallSiteInfo(g *Graph, opts CallSiteOptions) *GraphCallSiteInfo {
	info := &GraphCallSiteInfo{
		single: make(map[program.MethodRef]struct{}),
		multi:  make(map[program.MethodRef]struct{}),
	}
	for _, n := range g.nodes {
		method := n.method
		if opts.Pinned != nil && opts.Pinned(method.Ref) {
			continue
		}
		if opts.ExcludeLibraryMethodOverrides && method.IsLibraryMethodOverride() {
			continue
		}
		if method.IsDefaultInitializer() && opts.CompatInstantiated != nil && opts.CompatInstantiated(method.Ref.Holder) {
			continue
		}

		switch count := n.CallSites(); {
		case count == 1:
			info.single[method.Ref] = struct{}{}
		case count > 1:
			info.multi[method.Ref] = struct{}{}
		}
	}
	return info
}

// HasSingleCallSite reports whether ref is called from exactly one site.
func (c *GraphCallSiteInfo) HasSingleCallSite(ref program.MethodRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.single[ref]
	return ok
}

// IsMultiCallerCandidate reports whether ref is called from several sites.
func (c *GraphCallSiteInfo) IsMultiCallerCandidate(ref program.MethodRef) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.multi[ref]
	return ok
}

// Unset removes ref from both classes.
func (c *GraphCallSiteInfo) Unset(ref program.MethodRef) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.single, ref)
	delete(c.multi, ref)
}

// Counts returns the sizes of the single-caller and multi-caller classes.
func (c *GraphCallSiteInfo) Counts() (single, multi int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.single), len(c.multi)
}

// EmptyCallSiteInfo classifies nothing.
type EmptyCallSiteInfo struct{}

var _ CallSiteInfo = EmptyCallSiteInfo{}

func (EmptyCallSiteInfo) HasSingleCallSite(program.MethodRef) bool      { return false }
func (EmptyCallSiteInfo) IsMultiCallerCandidate(program.MethodRef) bool { return false }
func (EmptyCallSiteInfo) Unset(program.MethodRef)                       {}
