// Package program defines the boundary between the call-graph engine and
// the compiler around it: method and field identities, the uses a body
// scanner reports, and the resolvers and oracles the engine consults.
package program

import (
	"cmp"
	"context"
	"fmt"
	"strings"
)

// Reserved method names.
const (
	ClassInitializerName    = "<clinit>"
	InstanceInitializerName = "<init>"
)

// MethodRef identifies a method. It is comparable and totally ordered.
type MethodRef struct {
	Holder string
	Name   string
	Proto  string
}

// ClassInitializerOf returns the reference of holder's static initializer.
func ClassInitializerOf(holder string) MethodRef {
	return MethodRef{Holder: holder, Name: ClassInitializerName, Proto: "()V"}
}

// String renders Holder.Name+Proto.
func (m MethodRef) String() string {
	return m.Holder + "." + m.Name + m.Proto
}

// Compare orders by holder, then name, then proto.
func (m MethodRef) Compare(o MethodRef) int {
	if c := cmp.Compare(m.Holder, o.Holder); c != 0 {
		return c
	}
	if c := cmp.Compare(m.Name, o.Name); c != 0 {
		return c
	}
	return cmp.Compare(m.Proto, o.Proto)
}

// IsClassInitializer reports whether m is a static initializer.
func (m MethodRef) IsClassInitializer() bool {
	return m.Name == ClassInitializerName
}

// IsInstanceInitializer reports whether m is a constructor.
func (m MethodRef) IsInstanceInitializer() bool {
	return m.Name == InstanceInitializerName
}

// ParseMethodRef parses "Holder.name(proto)". The proto is optional and
// the holder may itself contain dots.
func ParseMethodRef(s string) (MethodRef, error) {
	s = strings.TrimSpace(s)
	head, proto := s, ""
	if i := strings.IndexByte(s, '('); i >= 0 {
		head, proto = s[:i], s[i:]
	}
	dot := strings.LastIndexByte(head, '.')
	if dot <= 0 || dot == len(head)-1 {
		return MethodRef{}, fmt.Errorf("malformed method reference %q", s)
	}
	return MethodRef{Holder: head[:dot], Name: head[dot+1:], Proto: proto}, nil
}

// FieldRef identifies a field.
type FieldRef struct {
	Holder string
	Name   string
}

// String renders Holder.Name.
func (f FieldRef) String() string {
	return f.Holder + "." + f.Name
}

// ParseFieldRef parses "Holder.name".
func ParseFieldRef(s string) (FieldRef, error) {
	s = strings.TrimSpace(s)
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return FieldRef{}, fmt.Errorf("malformed field reference %q", s)
	}
	return FieldRef{Holder: s[:dot], Name: s[dot+1:]}, nil
}

// MethodFlags are the definition properties the engine looks at.
type MethodFlags uint32

const (
	FlagAbstract MethodFlags = 1 << iota
	FlagNative
	FlagLibraryMethodOverride
	FlagDefaultInitializer
)

// Method is a method definition.
type Method struct {
	Ref     MethodRef
	Flags   MethodFlags
	HasCode bool
}

func (m Method) IsAbstract() bool              { return m.Flags&FlagAbstract != 0 }
func (m Method) IsNative() bool                { return m.Flags&FlagNative != 0 }
func (m Method) IsLibraryMethodOverride() bool { return m.Flags&FlagLibraryMethodOverride != 0 }
func (m Method) IsDefaultInitializer() bool    { return m.Flags&FlagDefaultInitializer != 0 }

// String renders the method reference.
func (m Method) String() string {
	return m.Ref.String()
}

// InvokeKind is the dispatch kind of a call instruction.
type InvokeKind int

const (
	InvokeDirect InvokeKind = iota
	InvokeStatic
	InvokeSuper
	InvokeVirtual
	InvokeInterface
)

var invokeKindNames = [...]string{"direct", "static", "super", "virtual", "interface"}

func (k InvokeKind) String() string {
	if k >= 0 && int(k) < len(invokeKindNames) {
		return invokeKindNames[k]
	}
	return fmt.Sprintf("InvokeKind(%d)", int(k))
}

// IsDynamicDispatch reports whether the call may reach overrides.
func (k InvokeKind) IsDynamicDispatch() bool {
	return k == InvokeVirtual || k == InvokeInterface
}

// ParseInvokeKind parses the lower-case kind name.
func ParseInvokeKind(s string) (InvokeKind, error) {
	for i, name := range invokeKindNames {
		if name == s {
			return InvokeKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown invoke kind %q", s)
}

// UseRegistry receives the uses found in one method body.
type UseRegistry interface {
	RegisterInvoke(kind InvokeKind, target MethodRef)
	RegisterFieldRead(field FieldRef)
	RegisterFieldWrite(field FieldRef)
	RegisterNewInstance(holder string)
	RegisterInitClass(holder string)
}

// MethodEnumerator lists the methods eligible for the graph.
type MethodEnumerator interface {
	Methods() []Method
}

// CodeScanner walks a method body and reports every use to the registry.
type CodeScanner interface {
	Scan(ctx context.Context, method Method, registry UseRegistry) error
}

// DispatchTargets is the result of resolving a virtual or interface call.
type DispatchTargets struct {
	Targets []Method
	// LibraryHolder is set when the static receiver type lies outside the
	// program, so the targets are not fully known.
	LibraryHolder bool
}

// MethodResolver resolves invocation targets.
type MethodResolver interface {
	Definition(ref MethodRef) (Method, bool)
	LookupSingleTarget(kind InvokeKind, target MethodRef, context Method) (Method, bool)
	LookupDispatchTargets(kind InvokeKind, target MethodRef, context Method) (DispatchTargets, bool)
	// ClassInitializer returns holder's static initializer if holder is a
	// program type that has one.
	ClassInitializer(holder string) (Method, bool)
}

// FieldInfo is what the engine needs to know about a resolved field.
type FieldInfo struct {
	Ref           FieldRef
	Static        bool
	Pinned        bool
	ProgramHolder bool
	WriteContexts []MethodRef
}

// SingleWriter returns the only method writing the field, if there is one.
func (f FieldInfo) SingleWriter() (MethodRef, bool) {
	if len(f.WriteContexts) != 1 {
		return MethodRef{}, false
	}
	return f.WriteContexts[0], true
}

// FieldResolver resolves field accesses.
type FieldResolver interface {
	ResolveField(field FieldRef) (FieldInfo, bool)
}

// Oracle answers keep-rule and inlining-policy questions.
type Oracle interface {
	IsPinned(ref MethodRef) bool
	IsForceInlined(ref MethodRef) bool
}

// CompatibilityOracle is optionally implemented by programs whose keep
// rules instantiate classes reflectively.
type CompatibilityOracle interface {
	IsCompatInstantiated(holder string) bool
}

// Program bundles every capability the builder consumes.
type Program interface {
	MethodEnumerator
	CodeScanner
	MethodResolver
	FieldResolver
	Oracle
}
