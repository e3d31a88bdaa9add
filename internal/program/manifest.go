package program

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/ipo-callgraph/pkg/errors"
)

// Manifest is the declarative description of a program. JSON manifests
// decode too since JSON is a subset of YAML.
type Manifest struct {
	Name    string           `yaml:"name" json:"name"`
	Types   []TypeManifest   `yaml:"types" json:"types"`
	Fields  []FieldManifest  `yaml:"fields" json:"fields"`
	Methods []MethodManifest `yaml:"methods" json:"methods"`
}

// TypeManifest declares a type and its supertypes.
type TypeManifest struct {
	Name               string   `yaml:"name" json:"name"`
	Super              string   `yaml:"super" json:"super"`
	Interfaces         []string `yaml:"interfaces" json:"interfaces"`
	Library            bool     `yaml:"library" json:"library"`
	CompatInstantiated bool     `yaml:"compat_instantiated" json:"compat_instantiated"`
}

// FieldManifest declares a field. Undeclared fields of program types are
// treated as instance fields.
type FieldManifest struct {
	Ref    string `yaml:"ref" json:"ref"`
	Static bool   `yaml:"static" json:"static"`
	Pinned bool   `yaml:"pinned" json:"pinned"`
}

// MethodManifest declares a method and the uses in its body. A use is
// "<verb> <operand>" with verb one of invoke-direct, invoke-static,
// invoke-super, invoke-virtual, invoke-interface, read, write, new and
// init-class.
type MethodManifest struct {
	Ref                string   `yaml:"ref" json:"ref"`
	Abstract           bool     `yaml:"abstract" json:"abstract"`
	Native             bool     `yaml:"native" json:"native"`
	NoCode             bool     `yaml:"no_code" json:"no_code"`
	LibraryOverride    bool     `yaml:"library_override" json:"library_override"`
	DefaultInitializer bool     `yaml:"default_initializer" json:"default_initializer"`
	ForceInline        bool     `yaml:"force_inline" json:"force_inline"`
	Pinned             bool     `yaml:"pinned" json:"pinned"`
	Uses               []string `yaml:"uses" json:"uses"`
}

type useKind int

const (
	useInvoke useKind = iota
	useRead
	useWrite
	useNewInstance
	useInitClass
)

type use struct {
	kind   useKind
	invoke InvokeKind
	method MethodRef
	field  FieldRef
	holder string
}

type typeInfo struct {
	name               string
	super              string
	interfaces         []string
	library            bool
	compatInstantiated bool
}

// Model is an in-memory Program built from a Manifest.
type Model struct {
	name        string
	methods     []Method
	definitions map[MethodRef]Method
	uses        map[MethodRef][]use
	forceInline map[MethodRef]bool
	pinned      map[MethodRef]bool
	types       map[string]*typeInfo
	typeNames   []string
	fields      map[FieldRef]FieldManifest
	writers     map[FieldRef][]MethodRef
}

var _ Program = (*Model)(nil)
var _ CompatibilityOracle = (*Model)(nil)

// LoadManifest reads and compiles a manifest file.
func LoadManifest(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to read manifest", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and compiles a YAML or JSON manifest.
func ParseManifest(data []byte) (*Model, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "failed to decode manifest", err)
	}
	return NewModel(&m)
}

// NewModel compiles a manifest into a Model.
func NewModel(m *Manifest) (*Model, error) {
	model := &Model{
		name:        m.Name,
		definitions: make(map[MethodRef]Method),
		uses:        make(map[MethodRef][]use),
		forceInline: make(map[MethodRef]bool),
		pinned:      make(map[MethodRef]bool),
		types:       make(map[string]*typeInfo),
		fields:      make(map[FieldRef]FieldManifest),
		writers:     make(map[FieldRef][]MethodRef),
	}

	for _, t := range m.Types {
		if t.Name == "" {
			return nil, apperrors.New(apperrors.CodeInvalidInput, "type without name")
		}
		model.types[t.Name] = &typeInfo{
			name:               t.Name,
			super:              t.Super,
			interfaces:         t.Interfaces,
			library:            t.Library,
			compatInstantiated: t.CompatInstantiated,
		}
	}

	for _, f := range m.Fields {
		ref, err := ParseFieldRef(f.Ref)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "bad field", err)
		}
		model.fields[ref] = f
		model.ensureType(ref.Holder)
	}

	for _, mm := range m.Methods {
		ref, err := ParseMethodRef(mm.Ref)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "bad method", err)
		}
		if _, dup := model.definitions[ref]; dup {
			return nil, apperrors.Newf(apperrors.CodeInvalidInput, "duplicate method %s", ref)
		}

		def := Method{Ref: ref, HasCode: !mm.NoCode && !mm.Abstract && !mm.Native}
		if mm.Abstract {
			def.Flags |= FlagAbstract
		}
		if mm.Native {
			def.Flags |= FlagNative
		}
		if mm.LibraryOverride {
			def.Flags |= FlagLibraryMethodOverride
		}
		if mm.DefaultInitializer {
			def.Flags |= FlagDefaultInitializer
		}
		model.definitions[ref] = def
		model.methods = append(model.methods, def)
		model.forceInline[ref] = mm.ForceInline
		model.pinned[ref] = mm.Pinned
		model.ensureType(ref.Holder)

		for _, raw := range mm.Uses {
			u, err := parseUse(raw)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "bad use in "+ref.String(), err)
			}
			if u.kind == useWrite && !slices.Contains(model.writers[u.field], ref) {
				model.writers[u.field] = append(model.writers[u.field], ref)
			}
			model.uses[ref] = append(model.uses[ref], u)
		}
	}

	for field := range model.writers {
		slices.SortFunc(model.writers[field], MethodRef.Compare)
	}
	for name := range model.types {
		model.typeNames = append(model.typeNames, name)
	}
	slices.Sort(model.typeNames)
	return model, nil
}

func (m *Model) ensureType(name string) {
	if _, ok := m.types[name]; !ok {
		m.types[name] = &typeInfo{name: name}
	}
}

func parseUse(raw string) (use, error) {
	parts := strings.Fields(raw)
	if len(parts) != 2 {
		return use{}, fmt.Errorf("use %q must be \"<verb> <operand>\"", raw)
	}
	verb, operand := parts[0], parts[1]

	switch {
	case strings.HasPrefix(verb, "invoke-"):
		kind, err := ParseInvokeKind(strings.TrimPrefix(verb, "invoke-"))
		if err != nil {
			return use{}, err
		}
		target, err := ParseMethodRef(operand)
		if err != nil {
			return use{}, err
		}
		return use{kind: useInvoke, invoke: kind, method: target}, nil
	case verb == "read" || verb == "write":
		field, err := ParseFieldRef(operand)
		if err != nil {
			return use{}, err
		}
		if verb == "read" {
			return use{kind: useRead, field: field}, nil
		}
		return use{kind: useWrite, field: field}, nil
	case verb == "new":
		return use{kind: useNewInstance, holder: operand}, nil
	case verb == "init-class":
		return use{kind: useInitClass, holder: operand}, nil
	default:
		return use{}, fmt.Errorf("unknown verb %q", verb)
	}
}

// Name returns the manifest name.
func (m *Model) Name() string {
	return m.name
}

// Methods returns every declared method in declaration order.
func (m *Model) Methods() []Method {
	out := make([]Method, len(m.methods))
	copy(out, m.methods)
	return out
}

// Scan replays the declared uses of method.
func (m *Model) Scan(ctx context.Context, method Method, registry UseRegistry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, u := range m.uses[method.Ref] {
		switch u.kind {
		case useInvoke:
			registry.RegisterInvoke(u.invoke, u.method)
		case useRead:
			registry.RegisterFieldRead(u.field)
		case useWrite:
			registry.RegisterFieldWrite(u.field)
		case useNewInstance:
			registry.RegisterNewInstance(u.holder)
		case useInitClass:
			registry.RegisterInitClass(u.holder)
		}
	}
	return nil
}

// Definition returns the declared method.
func (m *Model) Definition(ref MethodRef) (Method, bool) {
	def, ok := m.definitions[ref]
	return def, ok
}

// LookupSingleTarget resolves a non-dispatching call by walking up from the
// target holder.
func (m *Model) LookupSingleTarget(kind InvokeKind, target MethodRef, _ Method) (Method, bool) {
	if kind.IsDynamicDispatch() {
		return Method{}, false
	}
	return m.lookupUp(target.Holder, target.Name, target.Proto)
}

// LookupDispatchTargets returns, for every program subtype of the receiver
// type, the implementation that subtype would dispatch to.
func (m *Model) LookupDispatchTargets(kind InvokeKind, target MethodRef, _ Method) (DispatchTargets, bool) {
	if !kind.IsDynamicDispatch() {
		return DispatchTargets{}, false
	}

	result := DispatchTargets{}
	if t, ok := m.types[target.Holder]; ok && t.library {
		result.LibraryHolder = true
	}

	seen := make(map[MethodRef]bool)
	for _, name := range m.typeNames {
		if m.types[name].library || !m.isSubtype(name, target.Holder) {
			continue
		}
		impl, ok := m.lookupUp(name, target.Name, target.Proto)
		if !ok || seen[impl.Ref] {
			continue
		}
		seen[impl.Ref] = true
		result.Targets = append(result.Targets, impl)
	}
	slices.SortFunc(result.Targets, func(a, b Method) int { return a.Ref.Compare(b.Ref) })

	return result, len(result.Targets) > 0 || result.LibraryHolder
}

// ClassInitializer returns holder's static initializer, if declared.
func (m *Model) ClassInitializer(holder string) (Method, bool) {
	if t, ok := m.types[holder]; ok && t.library {
		return Method{}, false
	}
	def, ok := m.definitions[ClassInitializerOf(holder)]
	return def, ok
}

// ResolveField resolves a field access.
func (m *Model) ResolveField(field FieldRef) (FieldInfo, bool) {
	t, ok := m.types[field.Holder]
	if !ok {
		return FieldInfo{}, false
	}
	decl := m.fields[field]
	return FieldInfo{
		Ref:           field,
		Static:        decl.Static,
		Pinned:        decl.Pinned,
		ProgramHolder: !t.library,
		WriteContexts: slices.Clone(m.writers[field]),
	}, true
}

// IsPinned reports whether the method is kept by keep rules.
func (m *Model) IsPinned(ref MethodRef) bool {
	return m.pinned[ref]
}

// IsForceInlined reports whether the method must be inlined into callers.
func (m *Model) IsForceInlined(ref MethodRef) bool {
	return m.forceInline[ref]
}

// IsCompatInstantiated reports whether holder is instantiated reflectively.
func (m *Model) IsCompatInstantiated(holder string) bool {
	t, ok := m.types[holder]
	return ok && t.compatInstantiated
}

// lookupUp finds name+proto on holder or its supertypes, classes before
// interfaces.
func (m *Model) lookupUp(holder, name, proto string) (Method, bool) {
	visited := make(map[string]bool)
	queue := []string{holder}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == "" || visited[current] {
			continue
		}
		visited[current] = true

		if def, ok := m.definitions[MethodRef{Holder: current, Name: name, Proto: proto}]; ok {
			return def, true
		}
		if t, ok := m.types[current]; ok {
			queue = append(queue, t.super)
			queue = append(queue, t.interfaces...)
		}
	}
	return Method{}, false
}

func (m *Model) isSubtype(sub, super string) bool {
	visited := make(map[string]bool)
	stack := []string{sub}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if current == super {
			return true
		}
		if current == "" || visited[current] {
			continue
		}
		visited[current] = true
		if t, ok := m.types[current]; ok {
			stack = append(stack, t.super)
			stack = append(stack, t.interfaces...)
		}
	}
	return false
}
