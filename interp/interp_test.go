package interp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/loom/emit"
	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/resolver"
	"github.com/google/go-cmp/cmp"
)

type program struct {
	mod    *ir.Module
	main   *ir.TypeDef
	animal *ir.TypeDef
	dog    *ir.TypeDef
	puppy  *ir.TypeDef
	node   *ir.TypeDef
}

// newProgram builds a module with a static Main type and a small class
// hierarchy Animal <- Dog <- Puppy, each overriding Speak.
func newProgram() *program {
	m := ir.NewModule("Prog")
	obj := m.CoreType("Object")
	str := m.CoreType("String")

	p := &program{mod: m}
	p.main = m.NewType("Prog", "Main", ir.TypePublic|ir.TypeAbstract|ir.TypeSealed)
	p.main.BaseType = obj

	p.animal = m.NewType("Prog", "Animal", ir.TypePublic)
	p.animal.BaseType = obj
	speak := p.animal.NewMethod("Speak", ir.MethodPublic|ir.MethodVirtual, str)
	emit.Append(speak).LdStr("...").Ret()

	p.dog = m.NewType("Prog", "Dog", ir.TypePublic)
	p.dog.BaseType = p.animal.Ref()
	woof := p.dog.NewMethod("Speak", ir.MethodPublic|ir.MethodVirtual, str)
	emit.Append(woof).LdStr("woof").Ret()

	p.puppy = m.NewType("Prog", "Puppy", ir.TypePublic)
	p.puppy.BaseType = p.dog.Ref()
	p.puppy.NewMethod("Speak", ir.MethodPublic|ir.MethodVirtual, str)

	p.node = m.NewType("Prog", "Node", ir.TypePublic)
	p.node.BaseType = obj
	p.node.AddField("value", m.CoreType("Int32"), false)

	return p
}

func (p *program) static(name string, ret *ir.TypeRef) *ir.MethodDef {
	return p.main.NewMethod(name, ir.MethodPublic|ir.MethodStatic, ret)
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestWhileBreakRunsTwice(t *testing.T) {
	p := newProgram()
	count := p.static("Count", p.mod.CoreType("Int32"))

	e := emit.Append(count)
	n := e.DeclareLocal("n", p.mod.CoreType("Int32"))
	e.LdcI4(0).StLoc(n).
		While(
			func(e *emit.Emitter) { e.LdcBool(true) },
			func(e *emit.Emitter) {
				e.LdStr("tick").Call(ir.CoreMethod("Console", "WriteLine"))
				e.LdLoc(n).LdcI4(1).Op(ir.OpAdd).StLoc(n)
				e.LdLoc(n).LdcI4(2).Ceq().If(func(e *emit.Emitter) { e.Break() })
			},
		).
		LdLoc(n).Ret()
	if _, err := e.End(); err != nil {
		t.Fatalf("emit: %v", err)
	}

	var out bytes.Buffer
	got, err := New(WithOutput(&out)).Run(count)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != int64(2) {
		t.Errorf("result = %v, want 2", got)
	}
	if out.String() != "tick\ntick\n" {
		t.Errorf("output = %q, want %q", out.String(), "tick\ntick\n")
	}
}

func TestIfElse(t *testing.T) {
	p := newProgram()
	i32 := p.mod.CoreType("Int32")
	sign := p.static("Sign", i32)
	x := sign.AddParameter("x", i32)
	e := emit.Append(sign).LdArg(x).LdcI4(0).Op(ir.OpClt).IfElse(
		func(e *emit.Emitter) { e.LdcI4(-1).Ret() },
		func(e *emit.Emitter) { e.LdcI4(1).Ret() },
	)
	if err := e.Err(); err != nil {
		t.Fatalf("emit: %v", err)
	}

	tests := []struct {
		in, want int64
	}{
		{-5, -1},
		{0, 1},
		{7, 1},
	}
	for _, tt := range tests {
		got, err := New().Run(sign, tt.in)
		if err != nil {
			t.Fatalf("Run(%d): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Sign(%d) = %v, want %d", tt.in, got, tt.want)
		}
	}
}

func TestStepLimit(t *testing.T) {
	p := newProgram()
	spin := p.static("Spin", p.mod.CoreType("Void"))
	emit.Append(spin).While(
		func(e *emit.Emitter) { e.LdcBool(true) },
		func(e *emit.Emitter) {},
	).Ret()

	_, err := New(WithStepLimit(100)).Run(spin)
	if !errors.Is(err, ErrStepLimit) {
		t.Errorf("err = %v, want ErrStepLimit", err)
	}
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestThrowException(t *testing.T) {
	p := newProgram()
	boom := p.static("Boom", p.mod.CoreType("Void"))
	emit.Append(boom).ThrowException(ir.CoreRef("InvalidOperationException"), "boom")

	_, err := New().Run(boom)
	var exc *Exception
	if !errors.As(err, &exc) {
		t.Fatalf("err = %v, want *Exception", err)
	}
	if exc.Type != "System.InvalidOperationException" || exc.Message != "boom" {
		t.Errorf("exception = %s %q, want System.InvalidOperationException %q", exc.Type, exc.Message, "boom")
	}
}

func TestDivideByZero(t *testing.T) {
	p := newProgram()
	div := p.static("Div", p.mod.CoreType("Int32"))
	emit.Append(div).LdcI4(1).LdcI4(0).Op(ir.OpDiv).Ret()

	_, err := New().Run(div)
	var exc *Exception
	if !errors.As(err, &exc) || exc.Type != "System.DivideByZeroException" {
		t.Errorf("err = %v, want DivideByZeroException", err)
	}
}

// ---------------------------------------------------------------------------
// Objects and calls
// ---------------------------------------------------------------------------

func TestVirtualDispatch(t *testing.T) {
	p := newProgram()
	r := resolver.New(nil, ir.ReadOptions{})
	r.AddRead(p.mod)

	puppySpeak := p.puppy.Method("Speak")
	if err := emit.Append(puppySpeak, emit.WithResolver(r)).CallBase().LdStr("!").Op(ir.OpAdd).Ret().Err(); err != nil {
		t.Fatalf("emit: %v", err)
	}

	talk := p.static("Talk", p.mod.CoreType("String"))
	a := talk.AddParameter("a", p.animal.Ref())
	emit.Append(talk).LdArg(a).CallVirt(p.animal.Method("Speak").Ref()).Ret()

	tests := []struct {
		typ  *ir.TypeDef
		want string
	}{
		{p.animal, "..."},
		{p.dog, "woof"},
		{p.puppy, "woof!"},
	}
	for _, tt := range tests {
		got, err := New().Run(talk, NewObject(tt.typ))
		if err != nil {
			t.Fatalf("Talk(%s): %v", tt.typ.Name, err)
		}
		if got != tt.want {
			t.Errorf("Talk(%s) = %v, want %q", tt.typ.Name, got, tt.want)
		}
	}
}

func TestNullReceiver(t *testing.T) {
	p := newProgram()
	talk := p.static("Talk", p.mod.CoreType("String"))
	a := talk.AddParameter("a", p.animal.Ref())
	emit.Append(talk).LdArg(a).CallVirt(p.animal.Method("Speak").Ref()).Ret()

	_, err := New().Run(talk, nil)
	var exc *Exception
	if !errors.As(err, &exc) || exc.Type != "System.NullReferenceException" {
		t.Errorf("err = %v, want NullReferenceException", err)
	}
}

func TestFieldChains(t *testing.T) {
	p := newProgram()
	i32 := p.mod.CoreType("Int32")
	bump := p.node.NewMethod("Bump", ir.MethodPublic, i32)
	e := emit.Append(bump).
		SetChain("value", func(e *emit.Emitter) { e.LoadChain("value").LdcI4(10).Op(ir.OpAdd) }).
		LoadChain("value").Ret()
	if err := e.Err(); err != nil {
		t.Fatalf("emit: %v", err)
	}

	obj := NewObject(p.node)
	obj.Fields["value"] = int64(5)
	got, err := New().Invoke(bump, obj, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got != int64(15) {
		t.Errorf("Bump = %v, want 15", got)
	}
}

// ---------------------------------------------------------------------------
// Argument packing
// ---------------------------------------------------------------------------

func TestPackArguments(t *testing.T) {
	p := newProgram()
	objects := ir.ArrayOf(p.mod.CoreType("Object"))
	pack := p.static("Pack", objects)
	pack.AddParameter("a", p.mod.CoreType("Int32"))
	pack.AddParameter("s", p.mod.CoreType("String"))
	emit.Append(pack).PackArguments().Ret()

	got, err := New().Run(pack, int64(3), "x")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	arr, ok := got.(*Array)
	if !ok {
		t.Fatalf("result = %T, want *Array", got)
	}
	if diff := cmp.Diff([]Value{int64(3), "x"}, arr.Elems); diff != "" {
		t.Errorf("elements mismatch (-want +got):\n%s", diff)
	}
}

func TestPackCallArgumentsKeepsOrder(t *testing.T) {
	p := newProgram()
	i32 := p.mod.CoreType("Int32")
	sum := p.static("Sum3", i32)
	sum.AddParameter("a", i32)
	sum.AddParameter("b", i32)
	sum.AddParameter("c", i32)

	wrap := p.static("Wrap", ir.ArrayOf(p.mod.CoreType("Object")))
	e := emit.Append(wrap).LdcI4(1).LdcI4(2).LdcI4(3).PackCallArguments(sum.Ref(), "0").Ret()
	if err := e.Err(); err != nil {
		t.Fatalf("emit: %v", err)
	}

	got, err := New().Run(wrap)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	arr := got.(*Array)
	if diff := cmp.Diff([]Value{int64(1), int64(2), int64(3)}, arr.Elems); diff != "" {
		t.Errorf("elements mismatch (-want +got):\n%s", diff)
	}
}

func TestArgumentCountMismatch(t *testing.T) {
	p := newProgram()
	m := p.static("Nothing", p.mod.CoreType("Void"))
	emit.Append(m).Ret()
	if _, err := New().Run(m, int64(1)); !errors.Is(err, ErrBadProgram) {
		t.Errorf("err = %v, want ErrBadProgram", err)
	}
}
