// Package emit provides a cursor over one method body for appending and
// inserting instructions, with structured control-flow helpers.
//
// Misuse (an undeclared local, a foreign parameter, break outside a loop)
// records a sticky error wrapping ir.ErrUsage. The failing call leaves the
// body exactly as it was, every later call is a no-op, and Err or End
// reports the error.
package emit

import (
	"slices"

	"github.com/chazu/loom/ir"
)

// Mode selects how emitted instructions are placed.
type Mode uint8

const (
	// ModeAppend adds instructions at the end of the body.
	ModeAppend Mode = iota
	// ModeInsert adds instructions after the cursor, or before the first
	// instruction when there is no cursor yet.
	ModeInsert
)

// Emitter writes instructions into one method body.
type Emitter struct {
	method *ir.MethodDef
	body   *ir.Body
	mode   Mode
	last   *ir.Instruction
	breaks []*ir.Instruction
	types  ir.TypeResolver
	err    error
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithResolver lets the emitter resolve types outside the method's module,
// which LoadChain, EqualsCall, ThrowException and CallBase may need.
func WithResolver(r ir.TypeResolver) Option {
	return func(e *Emitter) { e.types = r }
}

func newEmitter(m *ir.MethodDef, mode Mode, last *ir.Instruction, opts []Option) *Emitter {
	e := &Emitter{method: m, body: m.EnsureBody(), mode: mode, last: last}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Append returns an emitter adding instructions at the end of m's body.
func Append(m *ir.MethodDef, opts ...Option) *Emitter {
	return newEmitter(m, ModeAppend, nil, opts)
}

// InsertAfter returns an emitter inserting right after ins.
func InsertAfter(m *ir.MethodDef, ins *ir.Instruction, opts ...Option) *Emitter {
	e := newEmitter(m, ModeInsert, ins, opts)
	if ins != nil && !e.body.Contains(ins) {
		e.fail(ir.Usagef("insertion point %s is not in %s", ins, m.Name))
	}
	return e
}

// InsertBefore returns an emitter inserting right before ins.
func InsertBefore(m *ir.MethodDef, ins *ir.Instruction, opts ...Option) *Emitter {
	e := newEmitter(m, ModeInsert, nil, opts)
	i := e.body.IndexOf(ins)
	if i < 0 {
		e.fail(ir.Usagef("insertion point %s is not in %s", ins, m.Name))
		return e
	}
	if i > 0 {
		e.last = e.body.Instructions[i-1]
	}
	return e
}

// InsertHead returns an emitter inserting at the start of the body.
func InsertHead(m *ir.MethodDef, opts ...Option) *Emitter {
	if m.Body == nil || m.Body.Len() == 0 {
		return Append(m, opts...)
	}
	return newEmitter(m, ModeInsert, nil, opts)
}

// InsertTail returns an emitter inserting before the last ret. An empty
// body gets a ret first.
func InsertTail(m *ir.MethodDef, opts ...Option) *Emitter {
	body := m.EnsureBody()
	if body.Len() == 0 {
		body.Append(ir.NewInstruction(ir.OpRet, nil))
	}
	ret := body.LastRet()
	if ret == nil {
		return Append(m, opts...)
	}
	return InsertBefore(m, ret, opts...)
}

// Method returns the method being emitted into.
func (e *Emitter) Method() *ir.MethodDef { return e.method }

// Body returns the body being emitted into.
func (e *Emitter) Body() *ir.Body { return e.body }

// Module returns the module owning the method.
func (e *Emitter) Module() *ir.Module { return e.method.Module() }

// Last returns the most recently emitted instruction, the insertion cursor.
func (e *Emitter) Last() *ir.Instruction { return e.last }

// Err returns the first usage error, if any.
func (e *Emitter) Err() error { return e.err }

// End finishes emitting and reports the first usage error.
func (e *Emitter) End() (*ir.MethodDef, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.method, nil
}

func (e *Emitter) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// guard runs fn and, if it records an error, rolls the body back to the
// state it had before fn started.
func (e *Emitter) guard(fn func()) *Emitter {
	if e.err != nil {
		return e
	}
	saved := slices.Clone(e.body.Instructions)
	nvars := len(e.body.Variables)
	last := e.last
	breaks := len(e.breaks)
	fn()
	if e.err != nil {
		e.body.Instructions = saved
		e.body.Variables = e.body.Variables[:nvars]
		e.last = last
		e.breaks = e.breaks[:breaks]
	}
	return e
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// Emit creates an instruction from op and operand and places it.
func (e *Emitter) Emit(op ir.Opcode, operand any) *Emitter {
	return e.EmitInstruction(ir.NewInstruction(op, operand))
}

// Op emits an instruction without an operand.
func (e *Emitter) Op(op ir.Opcode) *Emitter {
	return e.Emit(op, nil)
}

// EmitInstruction places ins after validating its operand. Locals and
// parameters must belong to this method.
func (e *Emitter) EmitInstruction(ins *ir.Instruction) *Emitter {
	if e.err != nil {
		return e
	}
	if err := ins.CheckOperand(); err != nil {
		e.fail(err)
		return e
	}
	switch v := ins.Operand.(type) {
	case *ir.Variable:
		if !e.body.HasVariable(v) {
			e.fail(ir.Usagef("variable %s must be declared in %s before use", v, e.method.Name))
			return e
		}
	case *ir.Parameter:
		if !e.method.Owns(v) {
			e.fail(ir.Usagef("parameter %s does not belong to %s", v.Name, e.method.Name))
			return e
		}
	}
	e.place(ins)
	return e
}

func (e *Emitter) place(ins *ir.Instruction) {
	if e.mode == ModeAppend {
		e.body.Append(ins)
		e.last = ins
		return
	}
	at := 0
	if e.last != nil {
		i := e.body.IndexOf(e.last)
		if i < 0 {
			e.fail(ir.Usagef("insertion cursor was removed from %s", e.method.Name))
			return
		}
		at = i + 1
	}
	e.body.InsertAt(at, ins)
	e.last = ins
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// NewLabel creates a branch target that is placed later with Mark.
func (e *Emitter) NewLabel() *ir.Instruction {
	return ir.Label()
}

// Mark places label at the cursor.
func (e *Emitter) Mark(label *ir.Instruction) *Emitter {
	if e.err == nil && e.body.Contains(label) {
		e.fail(ir.Usagef("label already placed in %s", e.method.Name))
		return e
	}
	return e.EmitInstruction(label)
}

// EmitJump emits a branch to label.
func (e *Emitter) EmitJump(op ir.Opcode, label *ir.Instruction) *Emitter {
	if e.err == nil && !op.IsBranch() {
		e.fail(ir.Usagef("%s is not a branch", op))
		return e
	}
	return e.Emit(op, label)
}
