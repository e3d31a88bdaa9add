package gossa

import (
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/tools/go/ssa"

	"github.com/ipo-callgraph/internal/program"
)

// funcValueHolder is the holder of the dispatch reference used for calls
// through a func-typed value.
const funcValueHolder = "func"

const initGuard = "init$guard"

type useKind int

const (
	useInvoke useKind = iota
	useRead
	useWrite
)

// use is one use found in a function body.
type use struct {
	kind    useKind
	invoke  program.InvokeKind
	method  program.MethodRef
	field   program.FieldRef
	library bool
}

// forEachUse walks the body of fn in block order.
func (p *Program) forEachUse(fn *ssa.Function, visit func(use)) {
	var operands []*ssa.Value
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if call, ok := instr.(ssa.CallInstruction); ok {
				if u, ok := p.callTarget(call.Common()); ok {
					visit(u)
				}
			}

			operands = instr.Operands(operands[:0])
			for _, op := range operands {
				if op == nil {
					continue
				}
				g, ok := (*op).(*ssa.Global)
				if !ok || g.Name() == initGuard || g.Pkg == nil {
					continue
				}
				field := program.FieldRef{Holder: g.Pkg.Pkg.Path(), Name: g.Name()}
				switch instr := instr.(type) {
				case *ssa.UnOp:
					if instr.Op == token.MUL {
						visit(use{kind: useRead, field: field})
						continue
					}
				case *ssa.Store:
					if instr.Addr == g {
						visit(use{kind: useWrite, field: field})
						continue
					}
				}
				// The address escapes.
				visit(use{kind: useRead, field: field})
				visit(use{kind: useWrite, field: field})
			}
		}
	}
}

// callTarget maps a call to the reference the resolver understands.
func (p *Program) callTarget(c *ssa.CallCommon) (use, bool) {
	if _, ok := c.Value.(*ssa.Builtin); ok {
		return use{}, false
	}

	if c.IsInvoke() {
		holder, pkg, library := p.interfaceHolder(c.Value.Type())
		sig, _ := c.Method.Type().(*types.Signature)
		return use{
			kind:    useInvoke,
			invoke:  program.InvokeInterface,
			method:  program.MethodRef{Holder: holder, Name: c.Method.Name(), Proto: proto(sig, pkg)},
			library: library,
		}, true
	}

	if callee := c.StaticCallee(); callee != nil {
		callee = canonical(callee)
		if callee == nil {
			return use{}, false
		}
		kind := program.InvokeStatic
		if callee.Signature.Recv() != nil {
			kind = program.InvokeDirect
		}
		return use{kind: useInvoke, invoke: kind, method: refOf(callee)}, true
	}

	return use{
		kind:   useInvoke,
		invoke: program.InvokeVirtual,
		method: program.MethodRef{Holder: funcValueHolder, Name: "call", Proto: proto(c.Signature(), nil)},
	}, true
}

// interfaceHolder names the static receiver type of an interface call and
// reports whether it is declared outside the program.
func (p *Program) interfaceHolder(t types.Type) (string, *types.Package, bool) {
	if named, ok := types.Unalias(t).(*types.Named); ok {
		obj := named.Obj()
		if obj.Pkg() == nil {
			return obj.Name(), nil, true
		}
		_, inProgram := p.pkgs[obj.Pkg().Path()]
		return obj.Pkg().Path() + "." + obj.Name(), obj.Pkg(), !inProgram
	}
	return types.TypeString(t, nil), nil, false
}

// refOf names an SSA function. Closures take the holder of the function
// they are declared in; package initializers become class initializers.
func refOf(fn *ssa.Function) program.MethodRef {
	pkg := pkgOf(fn)
	path := ""
	if pkg != nil {
		path = pkg.Path()
	}
	if isPackageInit(fn) {
		return program.ClassInitializerOf(path)
	}

	outer := fn
	for outer.Parent() != nil {
		outer = outer.Parent()
	}
	holder := path
	if recv := outer.Signature.Recv(); recv != nil {
		holder = path + "." + receiverName(recv.Type())
	}
	return program.MethodRef{Holder: holder, Name: fn.Name(), Proto: proto(fn.Signature, pkg)}
}

func receiverName(t types.Type) string {
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	if named, ok := types.Unalias(t).(*types.Named); ok {
		return named.Obj().Name()
	}
	return types.TypeString(t, nil)
}

func pkgOf(fn *ssa.Function) *types.Package {
	for f := fn; f != nil; f = f.Parent() {
		if f.Pkg != nil {
			return f.Pkg.Pkg
		}
		if origin := f.Origin(); origin != nil && origin.Pkg != nil {
			return origin.Pkg.Pkg
		}
		if obj := f.Object(); obj != nil && obj.Pkg() != nil {
			return obj.Pkg()
		}
	}
	return nil
}

// proto renders a signature without its receiver, e.g. "(int,[]Shape)error".
func proto(sig *types.Signature, pkg *types.Package) string {
	if sig == nil {
		return "()"
	}
	q := types.RelativeTo(pkg)
	var b strings.Builder
	b.WriteByte('(')
	for i := 0; i < sig.Params().Len(); i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(types.TypeString(sig.Params().At(i).Type(), q))
	}
	b.WriteByte(')')

	results := sig.Results()
	switch results.Len() {
	case 0:
	case 1:
		b.WriteString(types.TypeString(results.At(0).Type(), q))
	default:
		b.WriteByte('(')
		for i := 0; i < results.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(types.TypeString(results.At(i).Type(), q))
		}
		b.WriteByte(')')
	}
	return b.String()
}

func isPackageInit(fn *ssa.Function) bool {
	return fn.Synthetic == "package initializer" && fn.Name() == "init"
}

func isInstance(fn *ssa.Function) bool {
	return fn.Origin() != nil
}

// isWrapper reports synthetic functions that only forward to another
// function: method wrappers, bound-method closures and thunks.
func isWrapper(fn *ssa.Function) bool {
	return fn.Synthetic != "" && !isPackageInit(fn) && !isInstance(fn)
}

// canonical follows wrappers to the function they forward to. It returns
// nil when the wrapper does not forward statically.
func canonical(fn *ssa.Function) *ssa.Function {
	for depth := 0; fn != nil && isWrapper(fn); depth++ {
		if depth == 4 {
			return nil
		}
		fn = forwardedCallee(fn)
	}
	return fn
}

func forwardedCallee(fn *ssa.Function) *ssa.Function {
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			if call, ok := instr.(ssa.CallInstruction); ok {
				if callee := call.Common().StaticCallee(); callee != nil {
					return callee
				}
			}
		}
	}
	return nil
}
