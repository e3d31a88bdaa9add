// Package gossa builds a program model from Go packages. Functions and
// methods become methods, package globals become static fields, and
// package initializers become class initializers. Interface and func-value
// calls are resolved by class hierarchy analysis.
package gossa

import (
	"context"
	"go/ast"
	"go/token"
	"slices"
	"strings"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"github.com/ipo-callgraph/internal/program"
	"github.com/ipo-callgraph/pkg/utils"
)

// Directives recognised in function doc comments.
const (
	ForceInlineDirective = "//ipo:forceinline"
	KeepDirective        = "//ipo:keep"
)

// Program is a program.Program over SSA functions. It is immutable after
// New returns and safe for concurrent scans.
type Program struct {
	ssa    *ssa.Program
	pkgs   map[string]*ssa.Package
	logger utils.Logger

	methods     []program.Method
	byRef       map[program.MethodRef]program.Method
	funcs       map[program.MethodRef]*ssa.Function
	clinits     map[string]program.Method
	dispatch    map[program.MethodRef][]program.Method
	libraryRefs map[program.MethodRef]bool
	globals     map[program.FieldRef]bool
	writers     map[program.FieldRef][]program.MethodRef
	pinned      map[program.MethodRef]bool
	forceInline map[program.MethodRef]bool
}

var (
	_ program.Program             = (*Program)(nil)
	_ program.CompatibilityOracle = (*Program)(nil)
)

// New indexes prog. Only functions of pkgs are part of the program; every
// other package is treated as library code.
func New(prog *ssa.Program, pkgs []*ssa.Package, logger utils.Logger) *Program {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	p := &Program{
		ssa:         prog,
		pkgs:        make(map[string]*ssa.Package, len(pkgs)),
		logger:      logger,
		byRef:       make(map[program.MethodRef]program.Method),
		funcs:       make(map[program.MethodRef]*ssa.Function),
		clinits:     make(map[string]program.Method),
		dispatch:    make(map[program.MethodRef][]program.Method),
		libraryRefs: make(map[program.MethodRef]bool),
		globals:     make(map[program.FieldRef]bool),
		writers:     make(map[program.FieldRef][]program.MethodRef),
		pinned:      make(map[program.MethodRef]bool),
		forceInline: make(map[program.MethodRef]bool),
	}
	for _, pkg := range pkgs {
		if pkg != nil {
			p.pkgs[pkg.Pkg.Path()] = pkg
		}
	}

	p.indexFunctions()
	p.indexGlobals()
	p.indexUses()
	p.indexDispatch()

	p.logger.Info("Indexed %d methods in %d packages (%d dispatch sites, %d globals)",
		len(p.methods), len(p.pkgs), len(p.dispatch), len(p.globals))
	return p
}

func (p *Program) inProgram(fn *ssa.Function) bool {
	pkg := pkgOf(fn)
	if pkg == nil {
		return false
	}
	_, ok := p.pkgs[pkg.Path()]
	return ok
}

func (p *Program) indexFunctions() {
	all := make([]*ssa.Function, 0)
	for fn := range ssautil.AllFunctions(p.ssa) {
		if !isWrapper(fn) && p.inProgram(fn) {
			all = append(all, fn)
		}
	}
	slices.SortFunc(all, func(a, b *ssa.Function) int {
		return strings.Compare(a.RelString(nil), b.RelString(nil))
	})

	for _, fn := range all {
		ref := refOf(fn)
		if _, dup := p.funcs[ref]; dup {
			p.logger.Warn("Skipping %s: its reference %s is already taken", fn.RelString(nil), ref)
			continue
		}
		m := program.Method{Ref: ref, HasCode: len(fn.Blocks) > 0}
		if !m.HasCode {
			m.Flags |= program.FlagNative
		}
		p.funcs[ref] = fn
		p.byRef[ref] = m
		p.methods = append(p.methods, m)

		if isPackageInit(fn) {
			if p.initializes(fn) {
				p.clinits[ref.Holder] = m
			}
			continue
		}
		p.readDirectives(fn, ref)
	}
	slices.SortFunc(p.methods, func(a, b program.Method) int { return a.Ref.Compare(b.Ref) })
}

// initializes reports whether a package initializer does more than run its
// guard and the initializers of imported packages.
func (p *Program) initializes(fn *ssa.Function) bool {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			switch instr := instr.(type) {
			case *ssa.Store:
				if g, ok := instr.Addr.(*ssa.Global); !ok || g.Name() != initGuard {
					return true
				}
			case ssa.CallInstruction:
				callee := instr.Common().StaticCallee()
				if callee == nil || !isPackageInit(callee) {
					return true
				}
			}
		}
	}
	return false
}

func (p *Program) readDirectives(fn *ssa.Function, ref program.MethodRef) {
	if pkg := pkgOf(fn); pkg != nil && pkg.Name() == "main" && fn.Parent() == nil {
		if fn.Name() == "main" || token.IsExported(fn.Name()) {
			p.pinned[ref] = true
		}
	}

	decl, ok := fn.Syntax().(*ast.FuncDecl)
	if !ok || decl.Doc == nil {
		return
	}
	for _, c := range decl.Doc.List {
		switch strings.TrimSpace(c.Text) {
		case ForceInlineDirective:
			p.forceInline[ref] = true
		case KeepDirective:
			p.pinned[ref] = true
		}
	}
}

func (p *Program) indexGlobals() {
	for path, pkg := range p.pkgs {
		for name, member := range pkg.Members {
			if _, ok := member.(*ssa.Global); ok && name != initGuard {
				p.globals[program.FieldRef{Holder: path, Name: name}] = true
			}
		}
	}
}

// indexUses records the write contexts of every global and the library
// receivers of interface calls.
func (p *Program) indexUses() {
	for _, m := range p.methods {
		if !m.HasCode {
			continue
		}
		seen := make(map[program.FieldRef]bool)
		p.forEachUse(p.funcs[m.Ref], func(u use) {
			switch u.kind {
			case useWrite:
				if p.globals[u.field] && !seen[u.field] {
					seen[u.field] = true
					p.writers[u.field] = append(p.writers[u.field], m.Ref)
				}
			case useInvoke:
				if u.library {
					p.libraryRefs[u.method] = true
				}
			}
		})
	}
	for f, refs := range p.writers {
		slices.SortFunc(refs, program.MethodRef.Compare)
		p.writers[f] = refs
	}
}

// indexDispatch resolves every dynamic call site with CHA and groups the
// targets by dispatch reference. CHA answers per interface method and per
// signature, so the grouping loses nothing.
func (p *Program) indexDispatch() {
	cg := cha.CallGraph(p.ssa)
	targets := make(map[program.MethodRef]map[program.MethodRef]bool)
	overrides := make(map[program.MethodRef]bool)

	_ = callgraph.GraphVisitEdges(cg, func(edge *callgraph.Edge) error {
		if edge.Site == nil || edge.Site.Common().StaticCallee() != nil {
			return nil
		}
		u, ok := p.callTarget(edge.Site.Common())
		if !ok {
			return nil
		}
		callee := canonical(edge.Callee.Func)
		if callee == nil || !p.inProgram(callee) {
			return nil
		}
		ref := refOf(callee)
		if _, ok := p.byRef[ref]; !ok {
			return nil
		}
		if targets[u.method] == nil {
			targets[u.method] = make(map[program.MethodRef]bool)
		}
		targets[u.method][ref] = true
		if u.library {
			overrides[ref] = true
		}
		return nil
	})

	for site, refs := range targets {
		methods := make([]program.Method, 0, len(refs))
		for ref := range refs {
			methods = append(methods, p.byRef[ref])
		}
		slices.SortFunc(methods, func(a, b program.Method) int { return a.Ref.Compare(b.Ref) })
		p.dispatch[site] = methods
	}

	// A method reached from a library interface call overrides a library
	// method.
	for ref := range overrides {
		m := p.byRef[ref]
		m.Flags |= program.FlagLibraryMethodOverride
		p.byRef[ref] = m
	}
	for i, m := range p.methods {
		p.methods[i] = p.byRef[m.Ref]
	}
	for site, methods := range p.dispatch {
		for i, m := range methods {
			methods[i] = p.byRef[m.Ref]
		}
		p.dispatch[site] = methods
	}
	for holder, m := range p.clinits {
		p.clinits[holder] = p.byRef[m.Ref]
	}
}

// Methods returns every function of the program ordered by reference.
func (p *Program) Methods() []program.Method {
	return slices.Clone(p.methods)
}

// Scan reports the uses of method's body.
func (p *Program) Scan(ctx context.Context, method program.Method, registry program.UseRegistry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn, ok := p.funcs[method.Ref]
	if !ok {
		return nil
	}
	p.forEachUse(fn, func(u use) {
		switch u.kind {
		case useInvoke:
			registry.RegisterInvoke(u.invoke, u.method)
		case useRead:
			registry.RegisterFieldRead(u.field)
		case useWrite:
			registry.RegisterFieldWrite(u.field)
		}
	})
	return nil
}

// Definition looks up a program function.
func (p *Program) Definition(ref program.MethodRef) (program.Method, bool) {
	m, ok := p.byRef[ref]
	return m, ok
}

// LookupSingleTarget resolves statically bound calls.
func (p *Program) LookupSingleTarget(kind program.InvokeKind, target program.MethodRef, _ program.Method) (program.Method, bool) {
	if kind.IsDynamicDispatch() {
		return program.Method{}, false
	}
	return p.Definition(target)
}

// LookupDispatchTargets returns the CHA targets of an interface or
// func-value call.
func (p *Program) LookupDispatchTargets(kind program.InvokeKind, target program.MethodRef, _ program.Method) (program.DispatchTargets, bool) {
	if !kind.IsDynamicDispatch() {
		return program.DispatchTargets{}, false
	}
	result := program.DispatchTargets{
		Targets:       slices.Clone(p.dispatch[target]),
		LibraryHolder: p.libraryRefs[target],
	}
	return result, len(result.Targets) > 0 || result.LibraryHolder
}

// ClassInitializer returns the initializer of a program package when it
// initializes anything.
func (p *Program) ClassInitializer(holder string) (program.Method, bool) {
	m, ok := p.clinits[holder]
	return m, ok
}

// ResolveField resolves a package global.
func (p *Program) ResolveField(field program.FieldRef) (program.FieldInfo, bool) {
	if !p.globals[field] {
		return program.FieldInfo{}, false
	}
	return program.FieldInfo{
		Ref:           field,
		Static:        true,
		ProgramHolder: true,
		WriteContexts: slices.Clone(p.writers[field]),
	}, true
}

// IsPinned reports main entry points and functions marked //ipo:keep.
func (p *Program) IsPinned(ref program.MethodRef) bool { return p.pinned[ref] }

// IsForceInlined reports functions marked //ipo:forceinline.
func (p *Program) IsForceInlined(ref program.MethodRef) bool { return p.forceInline[ref] }

// IsCompatInstantiated is always false: Go has no reflective
// instantiation through keep rules.
func (p *Program) IsCompatInstantiated(string) bool { return false }

// Function returns the SSA function behind ref.
func (p *Program) Function(ref program.MethodRef) (*ssa.Function, bool) {
	fn, ok := p.funcs[ref]
	return fn, ok
}

// Fset returns the file set positions are relative to.
func (p *Program) Fset() *token.FileSet { return p.ssa.Fset }
