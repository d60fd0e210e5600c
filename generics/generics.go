// Package generics closes open generic types and methods over type arguments
// and generates interface-implementing and base-overriding method stubs.
package generics

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/loom/ir"
)

// ---------------------------------------------------------------------------
// Substitution
// ---------------------------------------------------------------------------

// Context binds generic parameters to arguments by position: TypeArgs for
// parameters owned by a type, MethodArgs for parameters owned by a method.
type Context struct {
	TypeArgs   []*ir.TypeRef
	MethodArgs []*ir.TypeRef
}

// ContextOf returns the context described by a closed type and, optionally,
// a closed method.
func ContextOf(declaring *ir.TypeRef, method *ir.MethodRef) Context {
	var ctx Context
	if declaring != nil && declaring.Kind == ir.KindGenericInstance {
		ctx.TypeArgs = declaring.Args
	}
	if method != nil {
		ctx.MethodArgs = method.GenericArgs
	}
	return ctx
}

func (c Context) lookup(p *ir.GenericParam) *ir.TypeRef {
	args := c.TypeArgs
	if p.Owner == ir.OwnerMethod {
		args = c.MethodArgs
	}
	if p.Position < len(args) {
		return args[p.Position]
	}
	return nil
}

// Substitute rewrites t against ctx. Bound parameters are replaced by their
// arguments, nested instances have each argument substituted, by-ref and
// array wrappers are rebuilt around the substituted element, and unbound
// parameters keep their identity with substituted constraints.
//
// Substitution is a single pass: an argument is never itself substituted
// again, so an argument naming a parameter of an outer type survives as is.
func Substitute(t *ir.TypeRef, ctx Context) *ir.TypeRef {
	if t == nil {
		return nil
	}
	switch t.Kind {
	case ir.KindGenericParam:
		if t.Param == nil {
			return t
		}
		if arg := ctx.lookup(t.Param); arg != nil {
			return arg.Clone()
		}
		return substituteConstraints(t, ctx)
	case ir.KindGenericInstance:
		args := make([]*ir.TypeRef, len(t.Args))
		for i, a := range t.Args {
			args[i] = Substitute(a, ctx)
		}
		return ir.InstanceOf(t.Element.Clone(), args...)
	case ir.KindByRef:
		return ir.ByRefOf(Substitute(t.Element, ctx))
	case ir.KindArray:
		return ir.ArrayOf(Substitute(t.Element, ctx))
	default:
		return t
	}
}

func substituteConstraints(t *ir.TypeRef, ctx Context) *ir.TypeRef {
	p := t.Param
	if len(p.Constraints) == 0 {
		return t
	}
	changed := false
	cons := make([]*ir.TypeRef, len(p.Constraints))
	for i, c := range p.Constraints {
		cons[i] = Substitute(c, ctx)
		if cons[i].FullName() != c.FullName() {
			changed = true
		}
	}
	if !changed {
		return t
	}
	return ir.ParamRef(&ir.GenericParam{Name: p.Name, Owner: p.Owner, Position: p.Position, Constraints: cons})
}

func substituteAll(ts []*ir.TypeRef, ctx Context) []*ir.TypeRef {
	out := make([]*ir.TypeRef, len(ts))
	for i, t := range ts {
		out[i] = Substitute(t, ctx)
	}
	return out
}

// ---------------------------------------------------------------------------
// Closing
// ---------------------------------------------------------------------------

// Arity returns the number of generic parameters an open named type takes,
// reading the name's `N suffix when Arity is not set.
func Arity(t *ir.TypeRef) int {
	if t.Arity > 0 {
		return t.Arity
	}
	if i := strings.LastIndexByte(t.Name, '`'); i >= 0 {
		if n, err := strconv.Atoi(t.Name[i+1:]); err == nil {
			return n
		}
	}
	return 0
}

// CloseType instantiates the open type t over args. The argument count must
// equal the type's arity.
func CloseType(t *ir.TypeRef, args ...*ir.TypeRef) (*ir.TypeRef, error) {
	open := t.Open()
	if open == nil || open.Kind != ir.KindNamed {
		return nil, ir.Usagef("cannot close %s: not a named type", t)
	}
	if n := Arity(open); n != len(args) {
		return nil, ir.Usagef("%s takes %d type arguments, got %d", open.FullName(), n, len(args))
	}
	cloned := make([]*ir.TypeRef, len(args))
	for i, a := range args {
		cloned[i] = a.Clone()
	}
	return ir.InstanceOf(open.Clone(), cloned...), nil
}

// Close binds args to method. A generic method is instantiated over its own
// parameters; a non-generic method is closed through its declaring type. An
// already closed reference is first taken back to its open element, so
// closing never accumulates. Parameter and return types of the result are
// substituted.
func Close(method *ir.MethodRef, args ...*ir.TypeRef) (*ir.MethodRef, error) {
	if method == nil {
		return nil, ir.Usagef("cannot close a nil method")
	}
	if len(method.GenericArgs) > 0 && method.Element != nil {
		method = method.Element
	}

	if len(method.GenericParams) > 0 {
		if len(args) != len(method.GenericParams) {
			return nil, ir.Usagef("%s takes %d type arguments, got %d", method.Name, len(method.GenericParams), len(args))
		}
		ctx := ContextOf(method.DeclaringType, nil)
		ctx.MethodArgs = args
		return &ir.MethodRef{
			DeclaringType:  method.DeclaringType.Clone(),
			Name:           method.Name,
			ReturnType:     Substitute(method.ReturnType, ctx),
			ParameterTypes: substituteAll(method.ParameterTypes, ctx),
			HasThis:        method.HasThis,
			GenericArgs:    substituteAll(args, Context{}),
			Element:        method,
		}, nil
	}

	open := method.Open()
	decl, err := CloseType(open.DeclaringType, args...)
	if err != nil {
		return nil, err
	}
	ctx := Context{TypeArgs: decl.Args}
	return &ir.MethodRef{
		DeclaringType:  decl,
		Name:           open.Name,
		ReturnType:     Substitute(open.ReturnType, ctx),
		ParameterTypes: substituteAll(open.ParameterTypes, ctx),
		HasThis:        open.HasThis,
		Element:        open,
	}, nil
}

// ParameterType returns the i-th parameter type of method with both method
// and declaring-type arguments rebound.
func ParameterType(method *ir.MethodRef, i int) (*ir.TypeRef, error) {
	if i < 0 || i >= len(method.ParameterTypes) {
		return nil, ir.Usagef("%s has no parameter %d", method.Name, i)
	}
	return Substitute(method.ParameterTypes[i], ContextOf(method.DeclaringType, method)), nil
}

// ---------------------------------------------------------------------------
// Member generation
// ---------------------------------------------------------------------------

// Resolver generates members that depend on other types' definitions.
type Resolver struct {
	types ir.TypeResolver
}

// New creates a resolver that looks definitions up through types.
func New(types ir.TypeResolver) *Resolver {
	return &Resolver{types: types}
}

// Reset rebinds the resolver for a new run.
func (g *Resolver) Reset(types ir.TypeResolver) {
	g.types = types
}

// ImplementInterface adds iface to t and creates a stub for every interface
// method t does not already implement, returning both the existing and the
// new methods in interface order. Stub signatures are substituted against
// iface's own arguments. Explicit stubs are private, named after the
// interface and registered as overrides. Stubs have no body.
func (g *Resolver) ImplementInterface(t *ir.TypeDef, iface *ir.TypeRef, explicit bool) ([]*ir.MethodDef, error) {
	if t.IsInterface() {
		return nil, ir.Usagef("%s is an interface", t.FullName())
	}
	def, err := g.types.ResolveType(iface)
	if err != nil {
		return nil, fmt.Errorf("implement %s on %s: %w", iface, t.FullName(), err)
	}
	if !def.IsInterface() {
		return nil, ir.Usagef("%s is not an interface", iface)
	}

	mod := t.Module()
	declared := false
	for _, i := range t.Interfaces {
		if i.Same(iface) {
			declared = true
			break
		}
	}
	if !declared {
		t.Interfaces = append(t.Interfaces, mod.Import(iface))
	}

	ctx := ContextOf(iface, nil)
	var result []*ir.MethodDef
	for _, m := range def.Methods {
		if m.IsStatic() {
			continue
		}
		name := m.Name
		if explicit {
			name = iface.FullName() + "." + m.Name
		}

		stub := &ir.MethodDef{Name: name}
		mctx := ctx
		if len(m.GenericParams) > 0 {
			mctx.MethodArgs = make([]*ir.TypeRef, len(m.GenericParams))
			for i, gp := range m.GenericParams {
				mctx.MethodArgs[i] = ir.ParamRef(stub.AddGenericParam(gp.Name))
			}
			for i, gp := range m.GenericParams {
				stub.GenericParams[i].Constraints = importAll(mod, substituteAll(gp.Constraints, mctx))
			}
		}
		stub.ReturnType = mod.Import(Substitute(m.ReturnType, mctx))
		for _, p := range m.Parameters {
			stub.AddParameter(p.Name, mod.Import(Substitute(p.Type, mctx)))
		}

		if existing := findImplementation(t, stub); existing != nil {
			result = append(result, existing)
			continue
		}

		if explicit {
			stub.Attrs = ir.MethodPrivate | ir.MethodVirtual | ir.MethodFinal | ir.MethodNewSlot
			over := m.Ref()
			over.DeclaringType = iface
			stub.Overrides = append(stub.Overrides, mod.ImportMethod(over))
		} else {
			stub.Attrs = ir.MethodPublic | ir.MethodVirtual | ir.MethodFinal | ir.MethodNewSlot
		}
		t.AddMethod(stub)
		result = append(result, stub)
	}
	return result, nil
}

func findImplementation(t *ir.TypeDef, stub *ir.MethodDef) *ir.MethodDef {
	want := stub.Ref()
	for _, m := range t.Methods {
		if m.Name == stub.Name && m.Ref().SameSignature(want) {
			return m
		}
	}
	return nil
}

func importAll(mod *ir.Module, ts []*ir.TypeRef) []*ir.TypeRef {
	out := make([]*ir.TypeRef, len(ts))
	for i, t := range ts {
		out[i] = mod.Import(t)
	}
	return out
}

// FindBaseMethod walks t's base chain for an instance method with m's name
// and signature, comparing signatures after substituting each base's type
// arguments. The returned reference is bound to t's module.
func (g *Resolver) FindBaseMethod(t *ir.TypeDef, m *ir.MethodDef) (*ir.MethodRef, error) {
	want := m.Ref()
	for base := t.BaseType; base != nil; {
		def, err := g.types.ResolveType(base)
		if err != nil {
			return nil, fmt.Errorf("base method of %s: %w", m.FullName(), err)
		}
		ctx := ContextOf(base, nil)
		for _, bm := range def.Methods {
			if bm.Name != m.Name || bm.IsStatic() || len(bm.Parameters) != len(m.Parameters) {
				continue
			}
			open := bm.Ref()
			ref := &ir.MethodRef{
				DeclaringType:  base.Clone(),
				Name:           bm.Name,
				ReturnType:     Substitute(open.ReturnType, ctx),
				ParameterTypes: substituteAll(open.ParameterTypes, ctx),
				HasThis:        true,
			}
			if !ref.SameSignature(want) {
				continue
			}
			if base.Kind == ir.KindGenericInstance {
				ref.Element = open
			}
			if mod := t.Module(); mod != nil {
				ref = mod.ImportMethod(ref)
			}
			return ref, nil
		}
		base = Substitute(def.BaseType, ctx)
	}
	return nil, fmt.Errorf("%w: no base method for %s", ir.ErrMemberNotFound, m.FullName())
}
