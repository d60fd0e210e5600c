package interp

import (
	"fmt"

	"github.com/chazu/loom/ir"
)

// native implements a core library method.
type native func(i *Interpreter, this Value, args []Value) Value

var natives = map[string]native{
	"System.Console::WriteLine": func(i *Interpreter, _ Value, args []Value) Value {
		fmt.Fprintln(i.out, Format(args[0]))
		return nil
	},
	"System.Object::Equals": func(_ *Interpreter, _ Value, args []Value) Value {
		return boolValue(equal(args[0], args[1]))
	},
	"System.String::op_Equality": func(_ *Interpreter, _ Value, args []Value) Value {
		return boolValue(equal(args[0], args[1]))
	},
	"System.Object::.ctor": func(*Interpreter, Value, []Value) Value {
		return nil
	},
	"System.Exception::.ctor":                 setMessage,
	"System.InvalidOperationException::.ctor": setMessage,
}

func setMessage(i *Interpreter, this Value, args []Value) Value {
	i.object(this).Fields["message"] = args[0]
	return nil
}

// dispatch runs the method ref names. A virtual call on an object looks the
// method up from the object's runtime type.
func (i *Interpreter) dispatch(ref *ir.MethodRef, this Value, args []Value, virtual bool) Value {
	decl := ref.DeclaringType.Open()
	if decl != nil && decl.Scope == ir.CoreModuleName {
		if fn, ok := natives[decl.FullName()+"::"+ref.Name]; ok {
			return fn(i, this, args)
		}
		fail("%w: core method %s", ErrUnsupported, ref.FullName())
	}

	var m *ir.MethodDef
	if virtual {
		if obj, ok := this.(*Object); ok && obj.Type != nil {
			m = i.findVirtual(obj.Type, ref)
		}
	}
	if m == nil {
		m = i.methodDef(ref)
	}
	if m.IsStatic() {
		this = nil
	} else if this == nil {
		panic(&Exception{Type: "System.NullReferenceException", Message: "call to " + ref.Name + " on null"})
	}
	return i.call(m, this, args)
}

// findVirtual walks t and its bases for a concrete instance method matching
// ref's name and arity.
func (i *Interpreter) findVirtual(t *ir.TypeDef, ref *ir.MethodRef) *ir.MethodDef {
	for def := t; def != nil; {
		if m := match(def, ref, false); m != nil && m.Body != nil {
			return m
		}
		if def.BaseType == nil {
			return nil
		}
		def = i.lookupType(def.BaseType)
	}
	return nil
}

func (i *Interpreter) methodDef(ref *ir.MethodRef) *ir.MethodDef {
	def := i.typeDef(ref.DeclaringType)
	if m := match(def, ref, true); m != nil {
		return m
	}
	fail("%w: no method %s", ErrUnsupported, ref.FullName())
	return nil
}

// match prefers an exact signature and otherwise takes the first method with
// the same name and parameter count.
func match(def *ir.TypeDef, ref *ir.MethodRef, allowStatic bool) *ir.MethodDef {
	open := ref.Open()
	var first *ir.MethodDef
	for _, m := range def.Methods {
		if m.Name != ref.Name || len(m.Parameters) != len(ref.ParameterTypes) {
			continue
		}
		if m.IsStatic() && !allowStatic {
			continue
		}
		if m.Ref().SameSignature(open) {
			return m
		}
		if first == nil {
			first = m
		}
	}
	return first
}

func (i *Interpreter) typeDef(t *ir.TypeRef) *ir.TypeDef {
	def := i.lookupType(t)
	if def == nil {
		fail("%w: type %s not found", ErrUnsupported, t)
	}
	return def
}

func (i *Interpreter) lookupType(t *ir.TypeRef) *ir.TypeDef {
	open := t.Open()
	if open == nil || open.Kind != ir.KindNamed {
		return nil
	}
	if mod, ok := i.modules[open.Scope]; ok {
		if def := mod.TypeByFullName(open.FullName()); def != nil {
			return def
		}
	}
	if open.Scope == ir.CoreModuleName {
		return coreModule().TypeByFullName(open.FullName())
	}
	if i.types != nil {
		if def, err := i.types.ResolveType(t); err == nil {
			if mod := def.Module(); mod != nil {
				i.modules[mod.Name] = mod
			}
			return def
		}
	}
	return nil
}
