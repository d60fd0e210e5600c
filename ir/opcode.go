package ir

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single instruction.
type Opcode byte

// Stack Operations
const (
	OpNop Opcode = 0x00 // no operation; also used for labels
	OpPop Opcode = 0x01 // discard top of stack
	OpDup Opcode = 0x02 // duplicate top of stack
)

// Constants
const (
	OpLdNull Opcode = 0x10 // push null
	OpLdcI4  Opcode = 0x11 // push 32-bit integer
	OpLdcI8  Opcode = 0x12 // push 64-bit integer
	OpLdcR8  Opcode = 0x13 // push float64
	OpLdStr  Opcode = 0x14 // push string literal
)

// Arguments and locals
const (
	OpLdThis Opcode = 0x20 // push receiver
	OpLdArg  Opcode = 0x21 // push parameter
	OpStArg  Opcode = 0x22 // store into parameter
	OpLdLoc  Opcode = 0x23 // push local variable
	OpStLoc  Opcode = 0x24 // store into local variable
)

// Fields
const (
	OpLdFld  Opcode = 0x30 // pop object, push field
	OpStFld  Opcode = 0x31 // pop object and value, store field
	OpLdSFld Opcode = 0x32 // push static field
	OpStSFld Opcode = 0x33 // pop value, store static field
)

// Calls and object creation
const (
	OpCall     Opcode = 0x40 // direct call
	OpCallVirt Opcode = 0x41 // virtual dispatch on receiver
	OpNewObj   Opcode = 0x42 // allocate and run constructor
	OpRet      Opcode = 0x43 // return
	OpThrow    Opcode = 0x44 // throw exception object
)

// Control Flow
const (
	OpBr      Opcode = 0x50 // unconditional branch
	OpBrTrue  Opcode = 0x51 // pop, branch if true/non-null/non-zero
	OpBrFalse Opcode = 0x52 // pop, branch if false/null/zero
)

// Arithmetic and comparison
const (
	OpAdd Opcode = 0x60
	OpSub Opcode = 0x61
	OpMul Opcode = 0x62
	OpDiv Opcode = 0x63
	OpRem Opcode = 0x64
	OpCeq Opcode = 0x65 // pop 2, push 1 if equal
	OpClt Opcode = 0x66 // pop 2, push 1 if less
	OpCgt Opcode = 0x67 // pop 2, push 1 if greater
	OpNot Opcode = 0x68 // logical not of an int32 truth value
)

// Boxing and arrays
const (
	OpBox       Opcode = 0x70 // box value of operand type
	OpUnboxAny  Opcode = 0x71 // unbox to operand type
	OpNewArr    Opcode = 0x72 // pop length, push array of operand type
	OpStElemRef Opcode = 0x73 // pop array, index, value; store
	OpLdElemRef Opcode = 0x74 // pop array, index; push element
	OpLdLen     Opcode = 0x75 // pop array, push length
)

// ---------------------------------------------------------------------------
// Operand kinds
// ---------------------------------------------------------------------------

// OperandKind describes what an instruction's operand must be.
type OperandKind uint8

const (
	OperandNone      OperandKind = iota
	OperandInt                   // int64
	OperandFloat                 // float64
	OperandString                // string
	OperandBranch                // *Instruction
	OperandVariable              // *Variable
	OperandParameter             // *Parameter
	OperandType                  // *TypeRef
	OperandMethod                // *MethodRef
	OperandField                 // *FieldRef
)

func (k OperandKind) String() string {
	switch k {
	case OperandNone:
		return "none"
	case OperandInt:
		return "int"
	case OperandFloat:
		return "float"
	case OperandString:
		return "string"
	case OperandBranch:
		return "branch"
	case OperandVariable:
		return "variable"
	case OperandParameter:
		return "parameter"
	case OperandType:
		return "type"
	case OperandMethod:
		return "method"
	case OperandField:
		return "field"
	default:
		return fmt.Sprintf("OperandKind(%d)", k)
	}
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string      // human-readable name
	Operand     OperandKind // operand this opcode takes
	StackEffect int         // net effect on stack (-99 = depends on operand)
}

// VariableEffect marks opcodes whose stack effect depends on their operand.
const VariableEffect = -99

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop: {"nop", OperandNone, 0},
	OpPop: {"pop", OperandNone, -1},
	OpDup: {"dup", OperandNone, 1},

	OpLdNull: {"ldnull", OperandNone, 1},
	OpLdcI4:  {"ldc.i4", OperandInt, 1},
	OpLdcI8:  {"ldc.i8", OperandInt, 1},
	OpLdcR8:  {"ldc.r8", OperandFloat, 1},
	OpLdStr:  {"ldstr", OperandString, 1},

	OpLdThis: {"ldthis", OperandNone, 1},
	OpLdArg:  {"ldarg", OperandParameter, 1},
	OpStArg:  {"starg", OperandParameter, -1},
	OpLdLoc:  {"ldloc", OperandVariable, 1},
	OpStLoc:  {"stloc", OperandVariable, -1},

	OpLdFld:  {"ldfld", OperandField, 0},
	OpStFld:  {"stfld", OperandField, -2},
	OpLdSFld: {"ldsfld", OperandField, 1},
	OpStSFld: {"stsfld", OperandField, -1},

	OpCall:     {"call", OperandMethod, VariableEffect},
	OpCallVirt: {"callvirt", OperandMethod, VariableEffect},
	OpNewObj:   {"newobj", OperandMethod, VariableEffect},
	OpRet:      {"ret", OperandNone, VariableEffect},
	OpThrow:    {"throw", OperandNone, -1},

	OpBr:      {"br", OperandBranch, 0},
	OpBrTrue:  {"brtrue", OperandBranch, -1},
	OpBrFalse: {"brfalse", OperandBranch, -1},

	OpAdd: {"add", OperandNone, -1},
	OpSub: {"sub", OperandNone, -1},
	OpMul: {"mul", OperandNone, -1},
	OpDiv: {"div", OperandNone, -1},
	OpRem: {"rem", OperandNone, -1},
	OpCeq: {"ceq", OperandNone, -1},
	OpClt: {"clt", OperandNone, -1},
	OpCgt: {"cgt", OperandNone, -1},
	OpNot: {"not", OperandNone, 0},

	OpBox:       {"box", OperandType, 0},
	OpUnboxAny:  {"unbox.any", OperandType, 0},
	OpNewArr:    {"newarr", OperandType, 0},
	OpStElemRef: {"stelem.ref", OperandNone, -3},
	OpLdElemRef: {"ldelem.ref", OperandNone, -1},
	OpLdLen:     {"ldlen", OperandNone, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op)), Operand: OperandNone}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Operand returns the operand kind the opcode expects.
func (op Opcode) Operand() OperandKind {
	return op.Info().Operand
}

// IsBranch reports whether op transfers control to its operand.
func (op Opcode) IsBranch() bool {
	return op.Operand() == OperandBranch
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}
