package ir

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Type references
// ---------------------------------------------------------------------------

// TypeKind distinguishes the shapes a TypeRef can take.
type TypeKind uint8

const (
	KindNamed           TypeKind = iota // a type defined in some module
	KindGenericParam                    // a formal generic parameter
	KindGenericInstance                 // Element closed over Args
	KindByRef                           // managed pointer to Element
	KindArray                           // single-dimension array of Element
)

// ParamOwner says whether a generic parameter belongs to a type or a method.
type ParamOwner uint8

const (
	OwnerType ParamOwner = iota
	OwnerMethod
)

// GenericParam is a formal generic parameter. Identity for substitution is
// (Owner, Position); Name is only for display.
type GenericParam struct {
	Name        string
	Owner       ParamOwner
	Position    int
	Constraints []*TypeRef
}

// TypeRef references a type. Named references carry the name of the module
// that defines the type in Scope.
type TypeRef struct {
	Kind      TypeKind
	Scope     string
	Namespace string
	Name      string
	Arity     int
	ValueType bool

	Element *TypeRef
	Args    []*TypeRef
	Param   *GenericParam
}

// NewTypeRef returns a named reference to ns.name in module scope.
func NewTypeRef(scope, ns, name string) *TypeRef {
	return &TypeRef{Kind: KindNamed, Scope: scope, Namespace: ns, Name: name}
}

// ParamRef returns a reference to a generic parameter.
func ParamRef(p *GenericParam) *TypeRef {
	return &TypeRef{Kind: KindGenericParam, Param: p}
}

// ByRefOf wraps t in a by-reference type.
func ByRefOf(t *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindByRef, Element: t}
}

// ArrayOf wraps t in an array type.
func ArrayOf(t *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindArray, Element: t}
}

// InstanceOf closes the open generic type t over args without checking arity.
// Callers that need the check use generics.CloseType.
func InstanceOf(t *TypeRef, args ...*TypeRef) *TypeRef {
	return &TypeRef{Kind: KindGenericInstance, Element: t, Args: args}
}

// FullName returns the identity string used for type comparison.
func (t *TypeRef) FullName() string {
	if t == nil {
		return "(null)"
	}
	switch t.Kind {
	case KindGenericParam:
		if t.Param == nil {
			return "!?"
		}
		if t.Param.Name != "" {
			return t.Param.Name
		}
		if t.Param.Owner == OwnerMethod {
			return fmt.Sprintf("!!%d", t.Param.Position)
		}
		return fmt.Sprintf("!%d", t.Param.Position)
	case KindGenericInstance:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.FullName()
		}
		return t.Element.FullName() + "<" + strings.Join(args, ",") + ">"
	case KindByRef:
		return t.Element.FullName() + "&"
	case KindArray:
		return t.Element.FullName() + "[]"
	default:
		return qualifiedName(t.Namespace, t.Name, t.Arity)
	}
}

// String implements the Stringer interface.
func (t *TypeRef) String() string {
	return t.FullName()
}

// ReadableName renders generic instances with their arity suffix removed,
// for log lines and stub names.
func (t *TypeRef) ReadableName() string {
	if t == nil {
		return "(null)"
	}
	switch t.Kind {
	case KindGenericInstance:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.ReadableName()
		}
		return t.Element.ReadableName() + "<" + strings.Join(args, ",") + ">"
	case KindByRef:
		return t.Element.ReadableName() + "&"
	case KindArray:
		return t.Element.ReadableName() + "[]"
	case KindNamed:
		if t.Namespace == "System" && t.Name == "Void" {
			return "void"
		}
		name := t.Name
		if i := strings.IndexByte(name, '`'); i >= 0 {
			name = name[:i]
		}
		return name
	default:
		return t.FullName()
	}
}

// Open returns the open generic definition of a generic instance, or t itself.
func (t *TypeRef) Open() *TypeRef {
	if t != nil && t.Kind == KindGenericInstance {
		return t.Element
	}
	return t
}

// IsGenericParam reports whether t is a bare generic parameter.
func (t *TypeRef) IsGenericParam() bool {
	return t != nil && t.Kind == KindGenericParam
}

// IsVoid reports whether t is System.Void.
func (t *TypeRef) IsVoid() bool {
	return t != nil && t.Kind == KindNamed && t.Namespace == "System" && t.Name == "Void"
}

// IsPrimitive reports whether t names one of the core primitive types.
func (t *TypeRef) IsPrimitive() bool {
	if t == nil || t.Kind != KindNamed || t.Scope != CoreModuleName || t.Namespace != "System" {
		return false
	}
	switch t.Name {
	case "Int32", "Int64", "Double", "Boolean":
		return true
	}
	return false
}

// Same reports whether two references name the same type. Generic
// parameters compare by (Owner, Position), so a method's T never matches a
// type's T, while renamed parameters in the same slot do.
func (t *TypeRef) Same(other *TypeRef) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.Kind != other.Kind {
		return false
	}
	switch t.Kind {
	case KindGenericParam:
		if t.Param == nil || other.Param == nil {
			return t.Param == other.Param
		}
		return t.Param.Owner == other.Param.Owner && t.Param.Position == other.Param.Position
	case KindGenericInstance:
		if !t.Element.Same(other.Element) || len(t.Args) != len(other.Args) {
			return false
		}
		for i, a := range t.Args {
			if !a.Same(other.Args[i]) {
				return false
			}
		}
		return true
	case KindByRef, KindArray:
		return t.Element.Same(other.Element)
	}
	return t.FullName() == other.FullName()
}

// Clone returns a deep copy of t. Generic parameters are shared, since their
// identity is positional and they are owned by a definition.
func (t *TypeRef) Clone() *TypeRef {
	if t == nil {
		return nil
	}
	c := *t
	c.Element = t.Element.Clone()
	if t.Args != nil {
		c.Args = make([]*TypeRef, len(t.Args))
		for i, a := range t.Args {
			c.Args[i] = a.Clone()
		}
	}
	return &c
}

// walk visits t and every reference nested in it.
func (t *TypeRef) walk(fn func(*TypeRef)) {
	if t == nil {
		return
	}
	fn(t)
	t.Element.walk(fn)
	for _, a := range t.Args {
		a.walk(fn)
	}
}

func qualifiedName(ns, name string, arity int) string {
	if arity > 0 && !strings.ContainsRune(name, '`') {
		name = fmt.Sprintf("%s`%d", name, arity)
	}
	if ns == "" {
		return name
	}
	return ns + "." + name
}

// ---------------------------------------------------------------------------
// Member references
// ---------------------------------------------------------------------------

// MethodRef references a method through its declaring type. A reference
// produced by closing a generic method keeps the open method in Element.
type MethodRef struct {
	DeclaringType  *TypeRef
	Name           string
	ReturnType     *TypeRef
	ParameterTypes []*TypeRef
	HasThis        bool
	GenericParams  []*GenericParam
	GenericArgs    []*TypeRef
	Element        *MethodRef
}

// FullName renders the method signature, e.g. "System.Int32 Ns.Map`2::Get(K)".
func (m *MethodRef) FullName() string {
	if m == nil {
		return "(null)"
	}
	var sb strings.Builder
	sb.WriteString(m.ReturnType.FullName())
	sb.WriteByte(' ')
	sb.WriteString(m.DeclaringType.FullName())
	sb.WriteString("::")
	sb.WriteString(m.Name)
	if len(m.GenericArgs) > 0 {
		args := make([]string, len(m.GenericArgs))
		for i, a := range m.GenericArgs {
			args[i] = a.FullName()
		}
		sb.WriteString("<" + strings.Join(args, ",") + ">")
	} else if len(m.GenericParams) > 0 {
		fmt.Fprintf(&sb, "`%d", len(m.GenericParams))
	}
	sb.WriteByte('(')
	for i, p := range m.ParameterTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.FullName())
	}
	sb.WriteByte(')')
	return sb.String()
}

// String implements the Stringer interface.
func (m *MethodRef) String() string {
	return m.FullName()
}

// Open follows Element links back to the fully open method, or returns m
// itself when it was never closed.
func (m *MethodRef) Open() *MethodRef {
	for m != nil && m.Element != nil {
		m = m.Element
	}
	return m
}

// SameSignature compares return and parameter types with Same.
func (m *MethodRef) SameSignature(other *MethodRef) bool {
	if !m.ReturnType.Same(other.ReturnType) {
		return false
	}
	if len(m.ParameterTypes) != len(other.ParameterTypes) {
		return false
	}
	for i := range m.ParameterTypes {
		if !m.ParameterTypes[i].Same(other.ParameterTypes[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of m.
func (m *MethodRef) Clone() *MethodRef {
	if m == nil {
		return nil
	}
	c := *m
	c.DeclaringType = m.DeclaringType.Clone()
	c.ReturnType = m.ReturnType.Clone()
	c.ParameterTypes = cloneTypes(m.ParameterTypes)
	c.GenericArgs = cloneTypes(m.GenericArgs)
	c.Element = m.Element.Clone()
	return &c
}

func (m *MethodRef) walk(fn func(*TypeRef)) {
	if m == nil {
		return
	}
	m.DeclaringType.walk(fn)
	m.ReturnType.walk(fn)
	for _, p := range m.ParameterTypes {
		p.walk(fn)
	}
	for _, a := range m.GenericArgs {
		a.walk(fn)
	}
	m.Element.walk(fn)
}

// FieldRef references a field through its declaring type.
type FieldRef struct {
	DeclaringType *TypeRef
	Name          string
	Type          *TypeRef
	Static        bool
}

// FullName renders the field, e.g. "System.Int32 Ns.Point::X".
func (f *FieldRef) FullName() string {
	return f.Type.FullName() + " " + f.DeclaringType.FullName() + "::" + f.Name
}

// Clone returns a deep copy of f.
func (f *FieldRef) Clone() *FieldRef {
	if f == nil {
		return nil
	}
	c := *f
	c.DeclaringType = f.DeclaringType.Clone()
	c.Type = f.Type.Clone()
	return &c
}

func (f *FieldRef) walk(fn func(*TypeRef)) {
	if f == nil {
		return
	}
	f.DeclaringType.walk(fn)
	f.Type.walk(fn)
}

func cloneTypes(ts []*TypeRef) []*TypeRef {
	if ts == nil {
		return nil
	}
	out := make([]*TypeRef, len(ts))
	for i, t := range ts {
		out[i] = t.Clone()
	}
	return out
}

// TypeResolver maps references to definitions across the open module set.
type TypeResolver interface {
	ResolveType(ref *TypeRef) (*TypeDef, error)
}
