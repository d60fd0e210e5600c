// Package interp evaluates method bodies. It understands enough of the
// instruction set to run emitted control flow, arithmetic, objects, arrays
// and calls within a module plus a few core library methods.
package interp

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chazu/loom/ir"
)

var (
	ErrStepLimit   = errors.New("step limit exceeded")
	ErrUnsupported = errors.New("unsupported operation")
	ErrBadProgram  = errors.New("invalid program")
)

// DefaultStepLimit bounds the instructions one Invoke may execute.
const DefaultStepLimit = 1_000_000

const maxDepth = 512

var coreModule = sync.OnceValue(ir.CoreModule)

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter executes method bodies on a value stack.
type Interpreter struct {
	out      io.Writer
	types    ir.TypeResolver
	maxSteps int

	stack   []Value
	steps   int
	depth   int
	statics map[string]Value
	modules map[string]*ir.Module
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithOutput sets where Console.WriteLine writes. The default is stdout.
func WithOutput(w io.Writer) Option {
	return func(i *Interpreter) { i.out = w }
}

// WithResolver lets calls reach types in other modules.
func WithResolver(r ir.TypeResolver) Option {
	return func(i *Interpreter) { i.types = r }
}

// WithStepLimit overrides DefaultStepLimit.
func WithStepLimit(n int) Option {
	return func(i *Interpreter) { i.maxSteps = n }
}

// New creates an interpreter.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		out:      os.Stdout,
		maxSteps: DefaultStepLimit,
		statics:  make(map[string]Value),
		modules:  make(map[string]*ir.Module),
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Run invokes a static method.
func (i *Interpreter) Run(m *ir.MethodDef, args ...Value) (Value, error) {
	return i.Invoke(m, nil, args)
}

// Invoke calls m with receiver and args. An exception escaping m is returned
// as an *Exception error.
func (i *Interpreter) Invoke(m *ir.MethodDef, receiver Value, args []Value) (result Value, err error) {
	if len(args) != len(m.Parameters) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadProgram, m.Name, len(m.Parameters), len(args))
	}
	if mod := m.Module(); mod != nil {
		i.modules[mod.Name] = mod
	}
	i.stack = i.stack[:0]
	i.steps = 0
	i.depth = 0
	defer func() {
		if r := recover(); r != nil {
			switch x := r.(type) {
			case *Exception:
				err = x
			case runtimeError:
				err = x.err
			default:
				panic(r)
			}
		}
	}()
	return i.call(m, receiver, args), nil
}

// runtimeError carries an evaluation failure out of nested frames.
type runtimeError struct{ err error }

func fail(format string, args ...any) {
	panic(runtimeError{fmt.Errorf(format, args...)})
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (i *Interpreter) push(v Value) {
	i.stack = append(i.stack, v)
}

func (i *Interpreter) pop() Value {
	if len(i.stack) == 0 {
		fail("%w: stack underflow", ErrBadProgram)
	}
	v := i.stack[len(i.stack)-1]
	i.stack = i.stack[:len(i.stack)-1]
	return v
}

func (i *Interpreter) top() Value {
	if len(i.stack) == 0 {
		fail("%w: stack underflow", ErrBadProgram)
	}
	return i.stack[len(i.stack)-1]
}

func (i *Interpreter) popN(n int) []Value {
	if len(i.stack) < n {
		fail("%w: stack underflow", ErrBadProgram)
	}
	out := make([]Value, n)
	copy(out, i.stack[len(i.stack)-n:])
	i.stack = i.stack[:len(i.stack)-n]
	return out
}

func (i *Interpreter) popInt() int64 {
	v, ok := i.pop().(int64)
	if !ok {
		fail("%w: expected an integer", ErrBadProgram)
	}
	return v
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

type frame struct {
	method *ir.MethodDef
	this   Value
	args   []Value
	locals []Value
	ip     int
}

func (i *Interpreter) call(m *ir.MethodDef, this Value, args []Value) Value {
	if m.Body == nil {
		fail("%w: %s has no body", ErrUnsupported, m.FullName())
	}
	i.depth++
	if i.depth > maxDepth {
		fail("%w: call depth exceeds %d", ErrBadProgram, maxDepth)
	}
	defer func() { i.depth-- }()

	f := &frame{
		method: m,
		this:   this,
		args:   append([]Value(nil), args...),
		locals: make([]Value, len(m.Body.Variables)),
	}
	base := len(i.stack)
	result := i.runFrame(f)
	i.stack = i.stack[:base]
	return result
}

func labelsOf(b *ir.Body) map[*ir.Instruction]int {
	idx := make(map[*ir.Instruction]int, len(b.Instructions))
	for n, ins := range b.Instructions {
		idx[ins] = n
	}
	return idx
}

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

func (i *Interpreter) runFrame(f *frame) Value {
	body := f.method.Body
	code := body.Instructions
	labels := labelsOf(body)

	for {
		if f.ip >= len(code) {
			return nil
		}
		i.steps++
		if i.steps > i.maxSteps {
			fail("%w: %d instructions in %s", ErrStepLimit, i.maxSteps, f.method.Name)
		}
		ins := code[f.ip]
		f.ip++

		switch ins.Op {
		case ir.OpNop:

		case ir.OpPop:
			i.pop()

		case ir.OpDup:
			i.push(i.top())

		// --- Constants ---
		case ir.OpLdNull:
			i.push(nil)

		case ir.OpLdcI4, ir.OpLdcI8, ir.OpLdcR8, ir.OpLdStr:
			i.push(ins.Operand)

		// --- Arguments and locals ---
		case ir.OpLdThis:
			i.push(f.this)

		case ir.OpLdArg:
			i.push(f.args[ins.Operand.(*ir.Parameter).Index])

		case ir.OpStArg:
			f.args[ins.Operand.(*ir.Parameter).Index] = i.pop()

		case ir.OpLdLoc:
			i.push(f.locals[ins.Operand.(*ir.Variable).Index])

		case ir.OpStLoc:
			f.locals[ins.Operand.(*ir.Variable).Index] = i.pop()

		// --- Fields ---
		case ir.OpLdFld:
			i.push(i.object(i.pop()).Fields[ins.Operand.(*ir.FieldRef).Name])

		case ir.OpStFld:
			v := i.pop()
			i.object(i.pop()).Fields[ins.Operand.(*ir.FieldRef).Name] = v

		case ir.OpLdSFld:
			i.push(i.statics[ins.Operand.(*ir.FieldRef).FullName()])

		case ir.OpStSFld:
			i.statics[ins.Operand.(*ir.FieldRef).FullName()] = i.pop()

		// --- Calls ---
		case ir.OpCall, ir.OpCallVirt:
			ref := ins.Operand.(*ir.MethodRef)
			args := i.popN(len(ref.ParameterTypes))
			var this Value
			if ref.HasThis {
				this = i.pop()
			}
			result := i.dispatch(ref, this, args, ins.Op == ir.OpCallVirt)
			if rt := ref.ReturnType; rt != nil && !rt.IsVoid() {
				i.push(result)
			}

		case ir.OpNewObj:
			ref := ins.Operand.(*ir.MethodRef)
			args := i.popN(len(ref.ParameterTypes))
			def := i.typeDef(ref.DeclaringType)
			obj := NewObject(def)
			i.dispatch(ref, obj, args, false)
			i.push(obj)

		case ir.OpRet:
			if rt := f.method.ReturnType; rt == nil || rt.IsVoid() {
				return nil
			}
			return i.pop()

		case ir.OpThrow:
			panic(exceptionOf(i.pop()))

		// --- Control flow ---
		case ir.OpBr:
			f.ip = i.target(labels, ins)

		case ir.OpBrTrue:
			if truthy(i.pop()) {
				f.ip = i.target(labels, ins)
			}

		case ir.OpBrFalse:
			if !truthy(i.pop()) {
				f.ip = i.target(labels, ins)
			}

		// --- Arithmetic and comparison ---
		case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem:
			b := i.pop()
			a := i.pop()
			i.push(arith(ins.Op, a, b))

		case ir.OpCeq:
			b := i.pop()
			a := i.pop()
			i.push(boolValue(equal(a, b)))

		case ir.OpClt, ir.OpCgt:
			b := i.pop()
			a := i.pop()
			c := compare(a, b)
			if ins.Op == ir.OpClt {
				i.push(boolValue(c < 0))
			} else {
				i.push(boolValue(c > 0))
			}

		case ir.OpNot:
			i.push(boolValue(!truthy(i.pop())))

		// --- Boxing and arrays ---
		case ir.OpBox, ir.OpUnboxAny:

		case ir.OpNewArr:
			n := i.popInt()
			if n < 0 {
				fail("%w: negative array length %d", ErrBadProgram, n)
			}
			i.push(&Array{Elems: make([]Value, n)})

		case ir.OpStElemRef:
			v := i.pop()
			idx := i.popInt()
			arr := i.array(i.pop())
			arr.Elems[i.index(arr, idx)] = v

		case ir.OpLdElemRef:
			idx := i.popInt()
			arr := i.array(i.pop())
			i.push(arr.Elems[i.index(arr, idx)])

		case ir.OpLdLen:
			i.push(int64(len(i.array(i.pop()).Elems)))

		default:
			fail("%w: opcode %s", ErrUnsupported, ins.Op)
		}
	}
}

func (i *Interpreter) target(labels map[*ir.Instruction]int, ins *ir.Instruction) int {
	n, ok := labels[ins.Operand.(*ir.Instruction)]
	if !ok {
		fail("%w: branch target outside the body", ErrBadProgram)
	}
	return n
}

func (i *Interpreter) object(v Value) *Object {
	obj, ok := v.(*Object)
	if !ok {
		if v == nil {
			panic(&Exception{Type: "System.NullReferenceException", Message: "object reference not set"})
		}
		fail("%w: %T is not an object", ErrBadProgram, v)
	}
	return obj
}

func (i *Interpreter) array(v Value) *Array {
	arr, ok := v.(*Array)
	if !ok {
		if v == nil {
			panic(&Exception{Type: "System.NullReferenceException", Message: "array reference not set"})
		}
		fail("%w: %T is not an array", ErrBadProgram, v)
	}
	return arr
}

func (i *Interpreter) index(arr *Array, idx int64) int {
	if idx < 0 || idx >= int64(len(arr.Elems)) {
		panic(&Exception{Type: "System.IndexOutOfRangeException", Message: fmt.Sprintf("index %d outside [0,%d)", idx, len(arr.Elems))})
	}
	return int(idx)
}

func arith(op ir.Opcode, a, b Value) Value {
	if x, ok := a.(int64); ok {
		y, ok := b.(int64)
		if !ok {
			fail("%w: %s on int64 and %T", ErrBadProgram, op, b)
		}
		switch op {
		case ir.OpAdd:
			return x + y
		case ir.OpSub:
			return x - y
		case ir.OpMul:
			return x * y
		case ir.OpDiv, ir.OpRem:
			if y == 0 {
				panic(&Exception{Type: "System.DivideByZeroException", Message: "division by zero"})
			}
			if op == ir.OpDiv {
				return x / y
			}
			return x % y
		}
	}
	if x, ok := a.(float64); ok {
		y, ok := b.(float64)
		if !ok {
			fail("%w: %s on float64 and %T", ErrBadProgram, op, b)
		}
		switch op {
		case ir.OpAdd:
			return x + y
		case ir.OpSub:
			return x - y
		case ir.OpMul:
			return x * y
		case ir.OpDiv:
			return x / y
		}
	}
	if x, ok := a.(string); ok && op == ir.OpAdd {
		return x + Format(b)
	}
	fail("%w: %s on %T and %T", ErrBadProgram, op, a, b)
	return nil
}

func compare(a, b Value) int {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y)
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y)
		}
	}
	fail("%w: cannot compare %T and %T", ErrBadProgram, a, b)
	return 0
}
