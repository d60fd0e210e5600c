package emit

import (
	"fmt"
	"sync"

	"github.com/chazu/loom/generics"
	"github.com/chazu/loom/ir"
)

var coreModule = sync.OnceValue(ir.CoreModule)

// Call emits a call to m: call for a static method, callvirt for an instance
// method.
func (e *Emitter) Call(m *ir.MethodRef) *Emitter {
	op := ir.OpCall
	if m != nil && m.HasThis {
		op = ir.OpCallVirt
	}
	return e.Emit(op, e.importMethod(m))
}

// CallVirt emits a virtual call. The target must be an instance method.
func (e *Emitter) CallVirt(m *ir.MethodRef) *Emitter {
	if e.err == nil && m != nil && !m.HasThis {
		e.fail(ir.Usagef("callvirt on static method %s", m.Name))
		return e
	}
	return e.Emit(ir.OpCallVirt, e.importMethod(m))
}

// CallDirect emits a non-virtual call regardless of the target's staticness.
func (e *Emitter) CallDirect(m *ir.MethodRef) *Emitter {
	return e.Emit(ir.OpCall, e.importMethod(m))
}

// NewObj allocates an object and runs ctor on it.
func (e *Emitter) NewObj(ctor *ir.MethodRef) *Emitter {
	return e.Emit(ir.OpNewObj, e.importMethod(ctor))
}

// CallBase calls the base-type method the current method overrides, passing
// this and every parameter through.
func (e *Emitter) CallBase() *Emitter {
	return e.guard(func() {
		if e.method.IsStatic() {
			e.fail(ir.Usagef("static method %s has no base method", e.method.Name))
			return
		}
		if e.types == nil {
			e.fail(ir.Usagef("calling the base of %s needs a type resolver", e.method.Name))
			return
		}
		base, err := generics.New(e.types).FindBaseMethod(e.method.DeclaringType, e.method)
		if err != nil {
			e.fail(fmt.Errorf("%w: %w", ir.ErrUsage, err))
			return
		}
		e.LdThis().LdArgs().CallDirect(base)
	})
}

func (e *Emitter) importMethod(m *ir.MethodRef) *ir.MethodRef {
	if m == nil {
		return nil
	}
	if mod := e.Module(); mod != nil {
		return mod.ImportMethod(m)
	}
	return m
}

// resolveType finds the definition behind t: the method's own module first,
// then the configured resolver, then the core library.
func (e *Emitter) resolveType(t *ir.TypeRef) (*ir.TypeDef, error) {
	open := t.Open()
	if open == nil || open.Kind != ir.KindNamed {
		return nil, fmt.Errorf("%w: %s is not a named type", ir.ErrTypeNotFound, t)
	}
	if mod := e.Module(); mod != nil && (open.Scope == "" || open.Scope == mod.Name) {
		if def := mod.TypeByFullName(open.FullName()); def != nil {
			return def, nil
		}
	}
	if e.types != nil {
		return e.types.ResolveType(t)
	}
	if open.Scope == ir.CoreModuleName {
		if def := coreModule().TypeByFullName(open.FullName()); def != nil {
			return def, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ir.ErrTypeNotFound, t)
}

// ---------------------------------------------------------------------------
// Equality and exceptions
// ---------------------------------------------------------------------------

// EqualsCall compares the two values of type t on the stack and leaves a
// truth value:
//
//   - primitives and enums use ceq
//   - a type with op_Equality calls it
//   - other reference types call Object.Equals, or ceq when they have no
//     Equals of their own
//   - a type that cannot be resolved falls back to Object.Equals
//
// A value type without an equality operator is a usage error.
func (e *Emitter) EqualsCall(t *ir.TypeRef) *Emitter {
	if e.err != nil {
		return e
	}
	objectEquals := ir.CoreMethod("Object", "Equals")
	if t.IsGenericParam() {
		return e.Call(objectEquals)
	}
	def, err := e.resolveType(t)
	if err != nil {
		return e.Call(objectEquals)
	}
	if t.IsPrimitive() || def.Attrs&ir.TypeEnum != 0 {
		return e.Ceq()
	}
	if op := def.Method("op_Equality"); op != nil && op.IsStatic() {
		ref := op.Ref()
		if t.Kind == ir.KindGenericInstance {
			ref.DeclaringType = t
		}
		return e.Call(ref)
	}
	if !def.IsValueType() {
		if def.Method("Equals") != nil {
			return e.Call(objectEquals)
		}
		return e.Ceq()
	}
	e.fail(ir.Usagef("value type %s has no equality operator", t))
	return e
}

// ThrowException throws a new exc constructed with message.
func (e *Emitter) ThrowException(exc *ir.TypeRef, message string) *Emitter {
	return e.guard(func() {
		def, err := e.resolveType(exc)
		if err != nil {
			e.fail(fmt.Errorf("%w: cannot throw %s: %w", ir.ErrUsage, exc, err))
			return
		}
		var ctor *ir.MethodDef
		for _, m := range def.Methods {
			if m.Name == ".ctor" && len(m.Parameters) == 1 && m.Parameters[0].Type.Same(ir.CoreRef("String")) {
				ctor = m
				break
			}
		}
		if ctor == nil {
			e.fail(ir.Usagef("%s has no constructor taking a message", exc))
			return
		}
		ref := ctor.Ref()
		ref.DeclaringType = exc
		e.LdStr(message).NewObj(ref).Throw()
	})
}
