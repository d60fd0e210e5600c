package ir

import (
	"fmt"
	"slices"
)

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// SequencePoint maps an instruction back to a source location.
type SequencePoint struct {
	Document string
	Line     int
}

// Instruction is an opcode plus at most one operand. The operand's dynamic
// type is dictated by the opcode's OperandKind.
type Instruction struct {
	Op      Opcode
	Operand any
	Point   *SequencePoint
}

// NewInstruction creates an instruction. Integer operands of any width are
// normalized to int64.
func NewInstruction(op Opcode, operand any) *Instruction {
	switch v := operand.(type) {
	case int:
		operand = int64(v)
	case int32:
		operand = int64(v)
	case float32:
		operand = float64(v)
	}
	return &Instruction{Op: op, Operand: operand}
}

// Label creates a no-op instruction to be used as a branch target.
func Label() *Instruction {
	return &Instruction{Op: OpNop}
}

// CheckOperand reports whether the operand matches what the opcode expects.
func (ins *Instruction) CheckOperand() error {
	ok := false
	switch ins.Op.Operand() {
	case OperandNone:
		ok = ins.Operand == nil
	case OperandInt:
		_, ok = ins.Operand.(int64)
	case OperandFloat:
		_, ok = ins.Operand.(float64)
	case OperandString:
		_, ok = ins.Operand.(string)
	case OperandBranch:
		v, is := ins.Operand.(*Instruction)
		ok = is && v != nil
	case OperandVariable:
		v, is := ins.Operand.(*Variable)
		ok = is && v != nil
	case OperandParameter:
		v, is := ins.Operand.(*Parameter)
		ok = is && v != nil
	case OperandType:
		v, is := ins.Operand.(*TypeRef)
		ok = is && v != nil
	case OperandMethod:
		v, is := ins.Operand.(*MethodRef)
		ok = is && v != nil
	case OperandField:
		v, is := ins.Operand.(*FieldRef)
		ok = is && v != nil
	}
	if !ins.Op.Valid() {
		return Usagef("unknown opcode 0x%02x", byte(ins.Op))
	}
	if !ok {
		return Usagef("%s expects a %s operand, got %T", ins.Op, ins.Op.Operand(), ins.Operand)
	}
	return nil
}

// String renders the instruction without its position.
func (ins *Instruction) String() string {
	if ins.Operand == nil {
		return ins.Op.Name()
	}
	switch v := ins.Operand.(type) {
	case string:
		return fmt.Sprintf("%s %q", ins.Op.Name(), v)
	case *Variable:
		return fmt.Sprintf("%s %s", ins.Op.Name(), v)
	case *Parameter:
		return fmt.Sprintf("%s %s", ins.Op.Name(), v.Name)
	case *Instruction:
		return fmt.Sprintf("%s <label>", ins.Op.Name())
	default:
		return fmt.Sprintf("%s %v", ins.Op.Name(), v)
	}
}

// ---------------------------------------------------------------------------
// Body
// ---------------------------------------------------------------------------

// Variable is a local slot declared in a body.
type Variable struct {
	Name  string
	Type  *TypeRef
	Index int
	body  *Body
}

// String renders the variable as its name, or V_<index>.
func (v *Variable) String() string {
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("V_%d", v.Index)
}

// Body is the instruction stream and local slots of one method.
type Body struct {
	Instructions []*Instruction
	Variables    []*Variable

	method *MethodDef
}

// Method returns the method owning the body.
func (b *Body) Method() *MethodDef { return b.method }

// AddVariable declares a new local slot.
func (b *Body) AddVariable(name string, typ *TypeRef) *Variable {
	v := &Variable{Name: name, Type: typ, Index: len(b.Variables), body: b}
	b.Variables = append(b.Variables, v)
	return v
}

// HasVariable reports whether v was declared in this body.
func (b *Body) HasVariable(v *Variable) bool {
	return v != nil && v.body == b && v.Index < len(b.Variables) && b.Variables[v.Index] == v
}

// Len returns the number of instructions.
func (b *Body) Len() int { return len(b.Instructions) }

// IndexOf returns the position of ins in the stream, or -1.
func (b *Body) IndexOf(ins *Instruction) int {
	return slices.Index(b.Instructions, ins)
}

// Contains reports whether ins is in the stream.
func (b *Body) Contains(ins *Instruction) bool {
	return b.IndexOf(ins) >= 0
}

// Append adds instructions at the end of the stream.
func (b *Body) Append(ins ...*Instruction) {
	b.Instructions = append(b.Instructions, ins...)
}

// InsertAt inserts instructions before position i.
func (b *Body) InsertAt(i int, ins ...*Instruction) {
	b.Instructions = slices.Insert(b.Instructions, i, ins...)
}

// InsertAfter inserts instructions right after anchor.
func (b *Body) InsertAfter(anchor *Instruction, ins ...*Instruction) error {
	i := b.IndexOf(anchor)
	if i < 0 {
		return Usagef("anchor instruction %s is not in the body", anchor)
	}
	b.InsertAt(i+1, ins...)
	return nil
}

// InsertBefore inserts instructions right before anchor.
func (b *Body) InsertBefore(anchor *Instruction, ins ...*Instruction) error {
	i := b.IndexOf(anchor)
	if i < 0 {
		return Usagef("anchor instruction %s is not in the body", anchor)
	}
	b.InsertAt(i, ins...)
	return nil
}

// LastRet returns the last ret instruction, or nil.
func (b *Body) LastRet() *Instruction {
	for i := len(b.Instructions) - 1; i >= 0; i-- {
		if b.Instructions[i].Op == OpRet {
			return b.Instructions[i]
		}
	}
	return nil
}

// Validate checks every operand against its opcode and checks that branch
// targets, locals and parameters belong to this body's method.
func (b *Body) Validate() error {
	for i, ins := range b.Instructions {
		if err := ins.CheckOperand(); err != nil {
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		switch v := ins.Operand.(type) {
		case *Instruction:
			if !b.Contains(v) {
				return fmt.Errorf("instruction %d: %w", i, Usagef("branch target is not in the body"))
			}
		case *Variable:
			if !b.HasVariable(v) {
				return fmt.Errorf("instruction %d: %w", i, Usagef("variable %s is not declared in the body", v))
			}
		case *Parameter:
			if b.method == nil || !b.method.Owns(v) {
				return fmt.Errorf("instruction %d: %w", i, Usagef("parameter %s does not belong to the method", v.Name))
			}
		}
	}
	return nil
}
