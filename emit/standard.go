package emit

import (
	"github.com/chazu/loom/ir"
)

// ---------------------------------------------------------------------------
// Constants and stack
// ---------------------------------------------------------------------------

func (e *Emitter) LdcI4(v int) *Emitter { return e.Emit(ir.OpLdcI4, int64(v)) }
func (e *Emitter) LdcI8(v int64) *Emitter { return e.Emit(ir.OpLdcI8, v) }
func (e *Emitter) LdcR8(v float64) *Emitter { return e.Emit(ir.OpLdcR8, v) }
func (e *Emitter) LdStr(s string) *Emitter { return e.Emit(ir.OpLdStr, s) }
func (e *Emitter) LdNull() *Emitter { return e.Op(ir.OpLdNull) }
func (e *Emitter) Dup() *Emitter { return e.Op(ir.OpDup) }
func (e *Emitter) Pop() *Emitter { return e.Op(ir.OpPop) }
func (e *Emitter) Ret() *Emitter { return e.Op(ir.OpRet) }
func (e *Emitter) Throw() *Emitter { return e.Op(ir.OpThrow) }
func (e *Emitter) Ceq() *Emitter { return e.Op(ir.OpCeq) }
func (e *Emitter) StElemRef() *Emitter { return e.Op(ir.OpStElemRef) }
func (e *Emitter) NewArr(t *ir.TypeRef) *Emitter { return e.Emit(ir.OpNewArr, e.importType(t)) }

// LdcBool pushes 1 for true and 0 for false.
func (e *Emitter) LdcBool(v bool) *Emitter {
	if v {
		return e.LdcI4(1)
	}
	return e.LdcI4(0)
}

// Box boxes the value on the stack as t. By-ref types box their element.
func (e *Emitter) Box(t *ir.TypeRef) *Emitter {
	return e.Emit(ir.OpBox, e.importType(unwrapByRef(t)))
}

// UnboxAny converts the object on the stack to t.
func (e *Emitter) UnboxAny(t *ir.TypeRef) *Emitter {
	return e.Emit(ir.OpUnboxAny, e.importType(unwrapByRef(t)))
}

func unwrapByRef(t *ir.TypeRef) *ir.TypeRef {
	if t != nil && t.Kind == ir.KindByRef {
		return t.Element
	}
	return t
}

func (e *Emitter) importType(t *ir.TypeRef) *ir.TypeRef {
	if t == nil {
		return nil
	}
	if mod := e.Module(); mod != nil {
		return mod.Import(t)
	}
	return t
}

// ---------------------------------------------------------------------------
// Arguments and locals
// ---------------------------------------------------------------------------

// LdThis pushes the receiver. Static methods have none.
func (e *Emitter) LdThis() *Emitter {
	if e.err == nil && e.method.IsStatic() {
		e.fail(ir.Usagef("static method %s has no this", e.method.Name))
		return e
	}
	return e.Op(ir.OpLdThis)
}

// LdArg pushes each parameter in turn. Every parameter must belong to the
// method; otherwise nothing is emitted.
func (e *Emitter) LdArg(ps ...*ir.Parameter) *Emitter {
	return e.guard(func() {
		for _, p := range ps {
			e.Emit(ir.OpLdArg, p)
		}
	})
}

// LdArgByName pushes the named parameters.
func (e *Emitter) LdArgByName(names ...string) *Emitter {
	return e.guard(func() {
		for _, name := range names {
			p := e.method.Parameter(name)
			if p == nil {
				e.fail(ir.Usagef("%s has no parameter %q", e.method.Name, name))
				return
			}
			e.Emit(ir.OpLdArg, p)
		}
	})
}

// LdArgs pushes all of the method's parameters in declaration order.
func (e *Emitter) LdArgs() *Emitter {
	return e.LdArg(e.method.Parameters...)
}

// StArg stores the value on the stack into p.
func (e *Emitter) StArg(p *ir.Parameter) *Emitter {
	return e.Emit(ir.OpStArg, p)
}

// DeclareLocal adds a local slot to the body. By-ref types are declared as
// their element type.
func (e *Emitter) DeclareLocal(name string, t *ir.TypeRef) *ir.Variable {
	return e.body.AddVariable(name, e.importType(unwrapByRef(t)))
}

// LdLoc pushes each variable in turn. Every variable must be declared in this
// body; otherwise nothing is emitted.
func (e *Emitter) LdLoc(vs ...*ir.Variable) *Emitter {
	return e.guard(func() {
		for _, v := range vs {
			e.Emit(ir.OpLdLoc, v)
		}
	})
}

// StLoc pops into each variable in turn.
func (e *Emitter) StLoc(vs ...*ir.Variable) *Emitter {
	return e.guard(func() {
		for _, v := range vs {
			e.Emit(ir.OpStLoc, v)
		}
	})
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

// LdFld loads f from the object on the stack, or the static field f.
func (e *Emitter) LdFld(f *ir.FieldRef) *Emitter {
	op := ir.OpLdFld
	if f != nil && f.Static {
		op = ir.OpLdSFld
	}
	return e.Emit(op, e.importField(f))
}

// StFld stores the value on the stack into f.
func (e *Emitter) StFld(f *ir.FieldRef) *Emitter {
	op := ir.OpStFld
	if f != nil && f.Static {
		op = ir.OpStSFld
	}
	return e.Emit(op, e.importField(f))
}

func (e *Emitter) importField(f *ir.FieldRef) *ir.FieldRef {
	if f == nil {
		return nil
	}
	if mod := e.Module(); mod != nil {
		return mod.ImportField(f)
	}
	return f
}
