package ir

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Attributes
// ---------------------------------------------------------------------------

// TypeAttributes are flags describing a type definition.
type TypeAttributes uint32

const (
	TypePublic TypeAttributes = 1 << iota
	TypeInterface
	TypeAbstract
	TypeSealed
	TypeValueType
	TypeEnum
)

// MethodAttributes are flags describing a method definition.
type MethodAttributes uint32

const (
	MethodPublic MethodAttributes = 1 << iota
	MethodPrivate
	MethodStatic
	MethodVirtual
	MethodAbstract
	MethodFinal
	MethodNewSlot
	MethodSpecialName
)

// ---------------------------------------------------------------------------
// Module
// ---------------------------------------------------------------------------

// Module is a compiled program unit: a named list of type definitions plus
// the names of the modules it references.
type Module struct {
	Name       string
	MVID       uuid.UUID
	References []string
	Attributes []string
	Types      []*TypeDef
}

// NewModule creates an empty module with a fresh MVID.
func NewModule(name string) *Module {
	return &Module{Name: name, MVID: uuid.New()}
}

// AddType appends t to the module and returns it.
func (m *Module) AddType(t *TypeDef) *TypeDef {
	t.module = m
	m.Types = append(m.Types, t)
	return t
}

// NewType creates a type definition in this module.
func (m *Module) NewType(ns, name string, attrs TypeAttributes) *TypeDef {
	return m.AddType(&TypeDef{Namespace: ns, Name: name, Attrs: attrs})
}

// Type finds a type by namespace and name. A generic type may be named with or
// without its arity suffix.
func (m *Module) Type(ns, name string) *TypeDef {
	for _, t := range m.Types {
		if t.Namespace != ns {
			continue
		}
		if t.Name == name || t.FullName() == qualifiedName(ns, name, len(t.GenericParams)) {
			return t
		}
	}
	return nil
}

// TypeByFullName finds a type by its full name.
func (m *Module) TypeByFullName(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// Refers reports whether the module's reference table names other.
func (m *Module) Refers(other string) bool {
	return slices.Contains(m.References, other)
}

// AddReference records a module reference if it is not already present.
func (m *Module) AddReference(name string) {
	if name == "" || name == m.Name || m.Refers(name) {
		return
	}
	m.References = append(m.References, name)
}

// HasAttribute reports whether the module carries the named attribute.
func (m *Module) HasAttribute(name string) bool {
	return slices.Contains(m.Attributes, name)
}

// WantsWeaving reports whether the module declares the weave-me attribute.
func (m *Module) WantsWeaving() bool {
	return m.HasAttribute(WeaveMeAttribute) || m.HasAttribute(WeaveMeAttribute+"Attribute")
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

// Import binds a type reference to this module: the result is a copy whose
// foreign scopes are recorded in the module's reference table.
func (m *Module) Import(t *TypeRef) *TypeRef {
	c := t.Clone()
	c.walk(m.bindScope)
	return c
}

// ImportMethod binds a method reference to this module.
func (m *Module) ImportMethod(r *MethodRef) *MethodRef {
	c := r.Clone()
	c.walk(m.bindScope)
	return c
}

// ImportField binds a field reference to this module.
func (m *Module) ImportField(r *FieldRef) *FieldRef {
	c := r.Clone()
	c.walk(m.bindScope)
	return c
}

// CoreType returns an imported reference to System.<name> in the core module.
func (m *Module) CoreType(name string) *TypeRef {
	return m.Import(CoreRef(name))
}

func (m *Module) bindScope(t *TypeRef) {
	if t.Kind == KindNamed {
		m.AddReference(t.Scope)
	}
}

// ValidateReferences checks that every reference held by the module, in
// signatures and instruction operands alike, points either into the module
// itself or into a module named in its reference table.
func (m *Module) ValidateReferences() error {
	var bad *TypeRef
	check := func(t *TypeRef) {
		if bad == nil && t.Kind == KindNamed && t.Scope != m.Name && !m.Refers(t.Scope) {
			bad = t
		}
	}
	for _, t := range m.Types {
		t.BaseType.walk(check)
		for _, i := range t.Interfaces {
			i.walk(check)
		}
		for _, gp := range t.GenericParams {
			for _, c := range gp.Constraints {
				c.walk(check)
			}
		}
		for _, f := range t.Fields {
			f.Type.walk(check)
		}
		for _, p := range t.Properties {
			p.Type.walk(check)
		}
		for _, meth := range t.Methods {
			meth.walkRefs(check)
		}
		if bad != nil {
			return fmt.Errorf("%w: %s references %s in %q", ErrUnboundReference, t.FullName(), bad.FullName(), bad.Scope)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Stamp
// ---------------------------------------------------------------------------

const (
	StampNamespace   = "LoomWeaver"
	StampName        = "Stamp"
	WeaveMeAttribute = "WeaveMe"
)

// Stamped reports whether the module carries the woven marker type.
func (m *Module) Stamped() bool {
	for _, t := range m.Types {
		if t.Namespace == StampNamespace && t.Name == StampName {
			return true
		}
	}
	return false
}

// AddStamp appends the woven marker type. It returns false, changing nothing,
// when the module is already stamped.
func (m *Module) AddStamp() bool {
	if m.Stamped() {
		return false
	}
	t := m.NewType(StampNamespace, StampName, TypeAbstract)
	t.BaseType = m.CoreType("Object")
	return true
}

// ---------------------------------------------------------------------------
// TypeDef
// ---------------------------------------------------------------------------

// TypeDef is a type defined in a module.
type TypeDef struct {
	Namespace        string
	Name             string
	Attrs            TypeAttributes
	BaseType         *TypeRef
	Interfaces       []*TypeRef
	GenericParams    []*GenericParam
	Fields           []*FieldDef
	Properties       []*PropertyDef
	Methods          []*MethodDef
	CustomAttributes []string

	module *Module
}

// Module returns the module that owns t.
func (t *TypeDef) Module() *Module { return t.module }

// FullName returns the namespace-qualified name, with an arity suffix for
// generic types.
func (t *TypeDef) FullName() string {
	return qualifiedName(t.Namespace, t.Name, len(t.GenericParams))
}

func (t *TypeDef) IsInterface() bool { return t.Attrs&TypeInterface != 0 }
func (t *TypeDef) IsAbstract() bool  { return t.Attrs&TypeAbstract != 0 }
func (t *TypeDef) IsValueType() bool { return t.Attrs&(TypeValueType|TypeEnum) != 0 }

// Ref returns a reference to the (open) type definition.
func (t *TypeDef) Ref() *TypeRef {
	scope := ""
	if t.module != nil {
		scope = t.module.Name
	}
	return &TypeRef{
		Kind:      KindNamed,
		Scope:     scope,
		Namespace: t.Namespace,
		Name:      t.Name,
		Arity:     len(t.GenericParams),
		ValueType: t.IsValueType(),
	}
}

// SelfRef returns the type closed over its own generic parameters, the type
// of `this` inside a generic type. For non-generic types it equals Ref.
func (t *TypeDef) SelfRef() *TypeRef {
	if len(t.GenericParams) == 0 {
		return t.Ref()
	}
	args := make([]*TypeRef, len(t.GenericParams))
	for i, gp := range t.GenericParams {
		args[i] = ParamRef(gp)
	}
	return InstanceOf(t.Ref(), args...)
}

// AddGenericParam declares a new type-owned generic parameter.
func (t *TypeDef) AddGenericParam(name string, constraints ...*TypeRef) *GenericParam {
	gp := &GenericParam{Name: name, Owner: OwnerType, Position: len(t.GenericParams), Constraints: constraints}
	t.GenericParams = append(t.GenericParams, gp)
	return gp
}

// HasAttribute reports whether the type carries the named custom attribute.
func (t *TypeDef) HasAttribute(name string) bool {
	return slices.Contains(t.CustomAttributes, name)
}

// AddMethod appends m to the type and returns it.
func (t *TypeDef) AddMethod(m *MethodDef) *MethodDef {
	m.DeclaringType = t
	t.Methods = append(t.Methods, m)
	return m
}

// NewMethod creates a method on t.
func (t *TypeDef) NewMethod(name string, attrs MethodAttributes, ret *TypeRef) *MethodDef {
	return t.AddMethod(&MethodDef{Name: name, Attrs: attrs, ReturnType: ret})
}

// Method returns the first method with the given name.
func (t *TypeDef) Method(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// AddField creates a field on t.
func (t *TypeDef) AddField(name string, typ *TypeRef, static bool) *FieldDef {
	f := &FieldDef{Name: name, Type: typ, Static: static, DeclaringType: t}
	t.Fields = append(t.Fields, f)
	return f
}

// Field returns the field with the given name.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// AddProperty creates a property on t whose accessors are named methods.
func (t *TypeDef) AddProperty(name string, typ *TypeRef, getter, setter string) *PropertyDef {
	p := &PropertyDef{Name: name, Type: typ, Getter: getter, Setter: setter, DeclaringType: t}
	t.Properties = append(t.Properties, p)
	return p
}

// Property returns the property with the given name.
func (t *TypeDef) Property(name string) *PropertyDef {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// FieldDef is a field defined on a type.
type FieldDef struct {
	Name          string
	Type          *TypeRef
	Static        bool
	DeclaringType *TypeDef
}

// Ref returns a reference to the field through its declaring type.
func (f *FieldDef) Ref() *FieldRef {
	return &FieldRef{DeclaringType: f.DeclaringType.Ref(), Name: f.Name, Type: f.Type, Static: f.Static}
}

// PropertyDef is a property; Getter and Setter name methods on the same type.
type PropertyDef struct {
	Name          string
	Type          *TypeRef
	Getter        string
	Setter        string
	DeclaringType *TypeDef
}

// GetMethod returns the getter definition, or nil.
func (p *PropertyDef) GetMethod() *MethodDef {
	if p.Getter == "" {
		return nil
	}
	return p.DeclaringType.Method(p.Getter)
}

// SetMethod returns the setter definition, or nil.
func (p *PropertyDef) SetMethod() *MethodDef {
	if p.Setter == "" {
		return nil
	}
	return p.DeclaringType.Method(p.Setter)
}

// ---------------------------------------------------------------------------
// MethodDef
// ---------------------------------------------------------------------------

// MethodDef is a method defined on a type. A nil Body means the method has
// no instructions yet (abstract, native, or a freshly generated stub).
type MethodDef struct {
	Name             string
	Attrs            MethodAttributes
	ReturnType       *TypeRef
	Parameters       []*Parameter
	GenericParams    []*GenericParam
	Overrides        []*MethodRef
	CustomAttributes []string
	Body             *Body

	DeclaringType *TypeDef
}

// Parameter is a formal parameter. Its identity is fixed once declared.
type Parameter struct {
	Name   string
	Type   *TypeRef
	Index  int
	method *MethodDef
}

// Method returns the method that declares p.
func (p *Parameter) Method() *MethodDef { return p.method }

func (m *MethodDef) IsStatic() bool   { return m.Attrs&MethodStatic != 0 }
func (m *MethodDef) IsVirtual() bool  { return m.Attrs&MethodVirtual != 0 }
func (m *MethodDef) IsAbstract() bool { return m.Attrs&MethodAbstract != 0 }
func (m *MethodDef) HasThis() bool    { return !m.IsStatic() }

// AddParameter declares a new parameter at the end of the list.
func (m *MethodDef) AddParameter(name string, typ *TypeRef) *Parameter {
	p := &Parameter{Name: name, Type: typ, Index: len(m.Parameters), method: m}
	m.Parameters = append(m.Parameters, p)
	return p
}

// Parameter returns the parameter with the given name, or nil.
func (m *MethodDef) Parameter(name string) *Parameter {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Owns reports whether p was declared by m.
func (m *MethodDef) Owns(p *Parameter) bool {
	return p != nil && p.method == m && p.Index < len(m.Parameters) && m.Parameters[p.Index] == p
}

// AddGenericParam declares a new method-owned generic parameter.
func (m *MethodDef) AddGenericParam(name string, constraints ...*TypeRef) *GenericParam {
	gp := &GenericParam{Name: name, Owner: OwnerMethod, Position: len(m.GenericParams), Constraints: constraints}
	m.GenericParams = append(m.GenericParams, gp)
	return gp
}

// HasAttribute reports whether the method carries the named custom attribute.
func (m *MethodDef) HasAttribute(name string) bool {
	return slices.Contains(m.CustomAttributes, name)
}

// EnsureBody returns the method's body, creating an empty one if needed.
func (m *MethodDef) EnsureBody() *Body {
	if m.Body == nil {
		m.Body = &Body{method: m}
	}
	return m.Body
}

// Module returns the module owning the declaring type.
func (m *MethodDef) Module() *Module {
	if m.DeclaringType == nil {
		return nil
	}
	return m.DeclaringType.module
}

// Ref returns a reference to the method through its declaring type.
func (m *MethodDef) Ref() *MethodRef {
	r := &MethodRef{
		Name:          m.Name,
		ReturnType:    m.ReturnType,
		HasThis:       m.HasThis(),
		GenericParams: m.GenericParams,
	}
	if m.DeclaringType != nil {
		r.DeclaringType = m.DeclaringType.Ref()
	}
	r.ParameterTypes = make([]*TypeRef, len(m.Parameters))
	for i, p := range m.Parameters {
		r.ParameterTypes[i] = p.Type
	}
	return r
}

// FullName renders the method signature.
func (m *MethodDef) FullName() string {
	return m.Ref().FullName()
}

func (m *MethodDef) walkRefs(fn func(*TypeRef)) {
	m.ReturnType.walk(fn)
	for _, p := range m.Parameters {
		p.Type.walk(fn)
	}
	for _, gp := range m.GenericParams {
		for _, c := range gp.Constraints {
			c.walk(fn)
		}
	}
	for _, o := range m.Overrides {
		o.walk(fn)
	}
	if m.Body == nil {
		return
	}
	for _, v := range m.Body.Variables {
		v.Type.walk(fn)
	}
	for _, ins := range m.Body.Instructions {
		switch op := ins.Operand.(type) {
		case *TypeRef:
			op.walk(fn)
		case *MethodRef:
			op.walk(fn)
		case *FieldRef:
			op.walk(fn)
		}
	}
}
