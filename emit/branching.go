package emit

import "github.com/chazu/loom/ir"

// Block emits a nested run of instructions.
type Block func(*Emitter)

// If consumes the truth value on the stack and runs then when it is true.
func (e *Emitter) If(then Block) *Emitter {
	return e.guard(func() {
		end := e.NewLabel()
		e.EmitJump(ir.OpBrFalse, end)
		then(e)
		e.Mark(end)
	})
}

// IfNot consumes the truth value on the stack and runs then when it is false.
func (e *Emitter) IfNot(then Block) *Emitter {
	return e.guard(func() {
		end := e.NewLabel()
		e.EmitJump(ir.OpBrTrue, end)
		then(e)
		e.Mark(end)
	})
}

// IfNull consumes the reference on the stack and runs then when it is null.
func (e *Emitter) IfNull(then Block) *Emitter {
	return e.guard(func() {
		e.LdNull().Op(ir.OpCeq).If(then)
	})
}

// IfElse consumes the truth value on the stack and runs then or els.
func (e *Emitter) IfElse(then, els Block) *Emitter {
	return e.guard(func() {
		elseLabel := e.NewLabel()
		end := e.NewLabel()
		e.EmitJump(ir.OpBrFalse, elseLabel)
		then(e)
		e.EmitJump(ir.OpBr, end)
		e.Mark(elseLabel)
		els(e)
		e.Mark(end)
	})
}

// While emits a loop: cond leaves a truth value, body runs while it holds.
// Break inside body jumps past the loop without re-checking cond.
func (e *Emitter) While(cond, body Block) *Emitter {
	return e.guard(func() {
		top := e.NewLabel()
		exit := e.NewLabel()
		e.Mark(top)
		cond(e)
		e.EmitJump(ir.OpBrFalse, exit)
		e.breaks = append(e.breaks, exit)
		body(e)
		e.breaks = e.breaks[:len(e.breaks)-1]
		e.EmitJump(ir.OpBr, top)
		e.Mark(exit)
	})
}

// Break jumps to the exit of the innermost enclosing While.
func (e *Emitter) Break() *Emitter {
	if e.err != nil {
		return e
	}
	if len(e.breaks) == 0 {
		e.fail(ir.Usagef("break outside of a loop in %s", e.method.Name))
		return e
	}
	return e.EmitJump(ir.OpBr, e.breaks[len(e.breaks)-1])
}
