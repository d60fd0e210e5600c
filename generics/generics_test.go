package generics

import (
	"errors"
	"testing"

	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/resolver"
)

// collections builds a module with:
//
//	class Map<T,U> { U Get(T); static void Swap<V>(ref V, ref V); }
//	interface IMap<K,V> { V Get(K); void Put(K, V); R Fold<R>(R) }
//	interface IPair<A,B> { A First(); B Second() }
//	class Base<T> { virtual T Echo(T) }
//	class Mid<T> : Base<T>
func collections() *ir.Module {
	m := ir.NewModule("Col")
	obj := m.CoreType("Object")

	mp := m.NewType("Col", "Map", ir.TypePublic)
	mp.BaseType = obj
	t := mp.AddGenericParam("T")
	u := mp.AddGenericParam("U")
	get := mp.NewMethod("Get", ir.MethodPublic, ir.ParamRef(u))
	get.AddParameter("key", ir.ParamRef(t))
	swap := mp.NewMethod("Swap", ir.MethodPublic|ir.MethodStatic, m.CoreType("Void"))
	v := swap.AddGenericParam("V")
	swap.AddParameter("a", ir.ByRefOf(ir.ParamRef(v)))
	swap.AddParameter("b", ir.ByRefOf(ir.ParamRef(v)))

	imap := m.NewType("Col", "IMap", ir.TypeInterface|ir.TypeAbstract|ir.TypePublic)
	k := imap.AddGenericParam("K")
	iv := imap.AddGenericParam("V")
	iget := imap.NewMethod("Get", ir.MethodPublic|ir.MethodVirtual|ir.MethodAbstract, ir.ParamRef(iv))
	iget.AddParameter("key", ir.ParamRef(k))
	put := imap.NewMethod("Put", ir.MethodPublic|ir.MethodVirtual|ir.MethodAbstract, m.CoreType("Void"))
	put.AddParameter("key", ir.ParamRef(k))
	put.AddParameter("value", ir.ParamRef(iv))
	fold := imap.NewMethod("Fold", ir.MethodPublic|ir.MethodVirtual|ir.MethodAbstract, nil)
	r := fold.AddGenericParam("R")
	fold.ReturnType = ir.ParamRef(r)
	fold.AddParameter("seed", ir.ParamRef(r))

	pair := m.NewType("Col", "IPair", ir.TypeInterface|ir.TypeAbstract|ir.TypePublic)
	a := pair.AddGenericParam("A")
	b := pair.AddGenericParam("B")
	pair.NewMethod("First", ir.MethodPublic|ir.MethodVirtual|ir.MethodAbstract, ir.ParamRef(a))
	pair.NewMethod("Second", ir.MethodPublic|ir.MethodVirtual|ir.MethodAbstract, ir.ParamRef(b))

	base := m.NewType("Col", "Base", ir.TypePublic)
	base.BaseType = obj
	bt := base.AddGenericParam("T")
	echo := base.NewMethod("Echo", ir.MethodPublic|ir.MethodVirtual, ir.ParamRef(bt))
	echo.AddParameter("x", ir.ParamRef(bt))

	mid := m.NewType("Col", "Mid", ir.TypePublic)
	mt := mid.AddGenericParam("T")
	mid.BaseType = ir.InstanceOf(base.Ref(), ir.ParamRef(mt))

	return m
}

func setup(t *testing.T) (*ir.Module, *Resolver) {
	t.Helper()
	m := collections()
	r := resolver.New(nil, ir.ReadOptions{})
	r.AddRead(m)
	return m, New(r)
}

// ---------------------------------------------------------------------------
// Close / Substitute
// ---------------------------------------------------------------------------

func TestCloseMethodOnGenericType(t *testing.T) {
	m := collections()
	get := m.Type("Col", "Map").Method("Get").Ref()

	closed, err := Close(get, ir.CoreRef("String"), ir.CoreRef("Int32"))
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := closed.ParameterTypes[0].FullName(); got != "System.String" {
		t.Errorf("parameter = %s, want System.String", got)
	}
	if got := closed.ReturnType.FullName(); got != "System.Int32" {
		t.Errorf("return = %s, want System.Int32", got)
	}
	if got := closed.DeclaringType.FullName(); got != "Col.Map`2<System.String,System.Int32>" {
		t.Errorf("declaring type = %s", got)
	}
	if closed.Open() != get {
		t.Error("closed reference should keep its open element")
	}
}

func TestCloseByRefParameter(t *testing.T) {
	m := collections()
	swap := m.Type("Col", "Map").Method("Swap").Ref()

	closed, err := Close(swap, ir.CoreRef("Int32"))
	if err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	for i, p := range closed.ParameterTypes {
		if p.Kind != ir.KindByRef || p.FullName() != "System.Int32&" {
			t.Errorf("parameter %d = %s, want System.Int32&", i, p)
		}
	}
	pt, err := ParameterType(closed, 1)
	if err != nil || pt.FullName() != "System.Int32&" {
		t.Errorf("ParameterType(1) = %v, %v", pt, err)
	}
}

func TestCloseIsNeverIncremental(t *testing.T) {
	m := collections()
	swap := m.Type("Col", "Map").Method("Swap").Ref()

	first, err := Close(swap, ir.CoreRef("String"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := Close(first, ir.CoreRef("Int32"))
	if err != nil {
		t.Fatalf("re-Close() error = %v", err)
	}
	if got := second.ParameterTypes[0].FullName(); got != "System.Int32&" {
		t.Errorf("re-closed parameter = %s, want System.Int32&", got)
	}
	if second.Element != swap {
		t.Error("re-closing should start from the open element")
	}

	get := m.Type("Col", "Map").Method("Get").Ref()
	g1, _ := Close(get, ir.CoreRef("String"), ir.CoreRef("Int32"))
	g2, err := Close(g1, ir.CoreRef("Double"), ir.CoreRef("Boolean"))
	if err != nil {
		t.Fatal(err)
	}
	if got := g2.ReturnType.FullName(); got != "System.Boolean" {
		t.Errorf("re-closed return = %s, want System.Boolean", got)
	}
}

func TestArityMismatch(t *testing.T) {
	m := collections()
	mp := m.Type("Col", "Map")

	if _, err := CloseType(mp.Ref(), ir.CoreRef("String")); !errors.Is(err, ir.ErrUsage) {
		t.Errorf("CloseType(1 arg) = %v, want ErrUsage", err)
	}
	if _, err := Close(mp.Method("Swap").Ref()); !errors.Is(err, ir.ErrUsage) {
		t.Errorf("Close(no args) = %v, want ErrUsage", err)
	}
	if _, err := Close(mp.Method("Get").Ref(), ir.CoreRef("String")); !errors.Is(err, ir.ErrUsage) {
		t.Errorf("Close(Get, 1 arg) = %v, want ErrUsage", err)
	}
	if got := Arity(ir.NewTypeRef("X", "X", "List`1")); got != 1 {
		t.Errorf("Arity(List`1) = %d, want 1", got)
	}
}

func TestSubstituteNested(t *testing.T) {
	m := collections()
	mp := m.Type("Col", "Map")
	list := ir.NewTypeRef("Col", "Col", "List")
	list.Arity = 1
	tp := ir.ParamRef(&ir.GenericParam{Name: "T", Owner: ir.OwnerMethod, Position: 0})

	// List<Map<T, Int32>[]>
	nested := ir.InstanceOf(list, ir.ArrayOf(ir.InstanceOf(mp.Ref(), tp, ir.CoreRef("Int32"))))
	got := Substitute(nested, Context{MethodArgs: []*ir.TypeRef{ir.CoreRef("String")}})
	if want := "Col.List`1<Col.Map`2<System.String,System.Int32>[]>"; got.FullName() != want {
		t.Errorf("Substitute = %s, want %s", got, want)
	}
	if nested.FullName() != "Col.List`1<Col.Map`2<T,System.Int32>[]>" {
		t.Error("Substitute must not mutate its input")
	}
}

func TestSubstituteUnboundConstraints(t *testing.T) {
	outer := ir.ParamRef(&ir.GenericParam{Name: "T", Owner: ir.OwnerType, Position: 0})
	inner := ir.ParamRef(&ir.GenericParam{
		Name: "R", Owner: ir.OwnerMethod, Position: 0,
		Constraints: []*ir.TypeRef{outer},
	})
	got := Substitute(inner, Context{TypeArgs: []*ir.TypeRef{ir.CoreRef("String")}})
	if got.Kind != ir.KindGenericParam || got.Param.Name != "R" {
		t.Fatalf("unbound parameter should stay a parameter, got %s", got)
	}
	if c := got.Param.Constraints[0].FullName(); c != "System.String" {
		t.Errorf("constraint = %s, want System.String", c)
	}
}

// ---------------------------------------------------------------------------
// ImplementInterface
// ---------------------------------------------------------------------------

func TestImplementInterfaceImplicit(t *testing.T) {
	m, g := setup(t)
	impl := m.NewType("Col", "Impl", ir.TypePublic)
	impl.BaseType = m.CoreType("Object")
	iface, err := CloseType(m.Type("Col", "IMap").Ref(), ir.CoreRef("String"), ir.CoreRef("Int32"))
	if err != nil {
		t.Fatal(err)
	}

	stubs, err := g.ImplementInterface(impl, iface, false)
	if err != nil {
		t.Fatalf("ImplementInterface() error = %v", err)
	}
	want := []string{
		"System.Int32 Col.Impl::Get(System.String)",
		"System.Void Col.Impl::Put(System.String,System.Int32)",
		"R Col.Impl::Fold`1(R)",
	}
	if len(stubs) != len(want) {
		t.Fatalf("got %d stubs, want %d", len(stubs), len(want))
	}
	for i, s := range stubs {
		if s.FullName() != want[i] {
			t.Errorf("stub %d = %s, want %s", i, s.FullName(), want[i])
		}
		if s.Body != nil {
			t.Errorf("stub %s should have no body", s.Name)
		}
		if s.Attrs&ir.MethodPublic == 0 || len(s.Overrides) != 0 {
			t.Errorf("implicit stub %s should be public without overrides", s.Name)
		}
	}
	if len(impl.Interfaces) != 1 || !impl.Interfaces[0].Same(iface) {
		t.Errorf("Interfaces = %v", impl.Interfaces)
	}

	again, err := g.ImplementInterface(impl, iface, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(impl.Methods) != 3 || len(impl.Interfaces) != 1 || again[0] != stubs[0] {
		t.Error("implementing twice should reuse the existing methods")
	}
	if err := m.ValidateReferences(); err != nil {
		t.Errorf("stubs left unbound references: %v", err)
	}
}

func TestImplementInterfaceExplicit(t *testing.T) {
	m, g := setup(t)
	impl := m.NewType("Col", "Impl", ir.TypePublic)
	iface, _ := CloseType(m.Type("Col", "IMap").Ref(), ir.CoreRef("String"), ir.CoreRef("Int32"))

	stubs, err := g.ImplementInterface(impl, iface, true)
	if err != nil {
		t.Fatal(err)
	}
	get := stubs[0]
	if want := "Col.IMap`2<System.String,System.Int32>.Get"; get.Name != want {
		t.Errorf("explicit name = %q, want %q", get.Name, want)
	}
	if get.Attrs&ir.MethodPrivate == 0 {
		t.Error("explicit stub should be private")
	}
	if len(get.Overrides) != 1 || !get.Overrides[0].DeclaringType.Same(iface) {
		t.Errorf("Overrides = %v, want one entry on %s", get.Overrides, iface)
	}
}

func TestImplementInterfaceWithImplementingTypeParams(t *testing.T) {
	m, g := setup(t)
	impl := m.NewType("Col", "PairImpl", ir.TypePublic)
	x := impl.AddGenericParam("X")
	// PairImpl<X> : IPair<Int32, X>
	iface, _ := CloseType(m.Type("Col", "IPair").Ref(), ir.CoreRef("Int32"), ir.ParamRef(x))

	stubs, err := g.ImplementInterface(impl, iface, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := stubs[0].ReturnType.FullName(); got != "System.Int32" {
		t.Errorf("First returns %s, want System.Int32", got)
	}
	second := stubs[1].ReturnType
	if !second.IsGenericParam() || second.Param != x {
		t.Errorf("Second returns %s, want the implementing type's own X", second)
	}
}

func TestImplementInterfaceErrors(t *testing.T) {
	m, g := setup(t)
	imap := m.Type("Col", "IMap")
	if _, err := g.ImplementInterface(imap, m.Type("Col", "IPair").Ref(), false); !errors.Is(err, ir.ErrUsage) {
		t.Errorf("interface target = %v, want ErrUsage", err)
	}
	impl := m.NewType("Col", "Impl", ir.TypePublic)
	if _, err := g.ImplementInterface(impl, m.Type("Col", "Map").Ref(), false); !errors.Is(err, ir.ErrUsage) {
		t.Errorf("class as interface = %v, want ErrUsage", err)
	}
	if _, err := g.ImplementInterface(impl, ir.NewTypeRef("Col", "Col", "Nope"), false); !errors.Is(err, ir.ErrTypeNotFound) {
		t.Errorf("missing interface = %v, want ErrTypeNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// FindBaseMethod
// ---------------------------------------------------------------------------

func TestFindBaseMethod(t *testing.T) {
	m, g := setup(t)
	base := m.Type("Col", "Base")

	derived := m.NewType("Col", "Derived", ir.TypePublic)
	derived.BaseType = ir.InstanceOf(base.Ref(), m.CoreType("String"))
	echo := derived.NewMethod("Echo", ir.MethodPublic|ir.MethodVirtual, m.CoreType("String"))
	echo.AddParameter("x", m.CoreType("String"))

	ref, err := g.FindBaseMethod(derived, echo)
	if err != nil {
		t.Fatalf("FindBaseMethod() error = %v", err)
	}
	if got := ref.DeclaringType.FullName(); got != "Col.Base`1<System.String>" {
		t.Errorf("declaring type = %s", got)
	}

	// Leaf : Mid<Int32> : Base<Int32>
	leaf := m.NewType("Col", "Leaf", ir.TypePublic)
	leaf.BaseType = ir.InstanceOf(m.Type("Col", "Mid").Ref(), m.CoreType("Int32"))
	lecho := leaf.NewMethod("Echo", ir.MethodPublic|ir.MethodVirtual, m.CoreType("Int32"))
	lecho.AddParameter("x", m.CoreType("Int32"))
	ref, err = g.FindBaseMethod(leaf, lecho)
	if err != nil {
		t.Fatalf("FindBaseMethod(leaf) error = %v", err)
	}
	if got := ref.DeclaringType.FullName(); got != "Col.Base`1<System.Int32>" {
		t.Errorf("leaf declaring type = %s", got)
	}

	wrong := leaf.NewMethod("Echo", ir.MethodPublic|ir.MethodVirtual, m.CoreType("String"))
	wrong.AddParameter("x", m.CoreType("String"))
	if _, err := g.FindBaseMethod(leaf, wrong); !errors.Is(err, ir.ErrMemberNotFound) {
		t.Errorf("mismatched signature = %v, want ErrMemberNotFound", err)
	}
}

func TestFindBaseMethodGenericParamOwners(t *testing.T) {
	m, g := setup(t)
	void := m.CoreType("Void")

	// class Sink { virtual void Take<U>(U) }
	sink := m.NewType("Col", "Sink", ir.TypePublic)
	sink.BaseType = m.CoreType("Object")
	take := sink.NewMethod("Take", ir.MethodPublic|ir.MethodVirtual, void)
	take.AddParameter("x", ir.ParamRef(take.AddGenericParam("U")))

	// class Typed<U> : Sink { void Take(U) } takes the type's U, not a method's.
	typed := m.NewType("Col", "Typed", ir.TypePublic)
	typed.BaseType = sink.Ref()
	tu := typed.AddGenericParam("U")
	own := typed.NewMethod("Take", ir.MethodPublic|ir.MethodVirtual, void)
	own.AddParameter("x", ir.ParamRef(tu))
	if _, err := g.FindBaseMethod(typed, own); !errors.Is(err, ir.ErrMemberNotFound) {
		t.Errorf("type parameter against method parameter = %v, want ErrMemberNotFound", err)
	}

	// class Renamed : Sink { void Take<W>(W) } overrides despite the new name.
	renamed := m.NewType("Col", "Renamed", ir.TypePublic)
	renamed.BaseType = sink.Ref()
	over := renamed.NewMethod("Take", ir.MethodPublic|ir.MethodVirtual, void)
	over.AddParameter("x", ir.ParamRef(over.AddGenericParam("W")))
	ref, err := g.FindBaseMethod(renamed, over)
	if err != nil {
		t.Fatalf("FindBaseMethod(renamed) error = %v", err)
	}
	if got := ref.DeclaringType.FullName(); got != "Col.Sink" {
		t.Errorf("declaring type = %s, want Col.Sink", got)
	}
}
