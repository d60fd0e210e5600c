package resolver

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/loom/ir"
)

func writeModule(t *testing.T, dir string, m *ir.Module) string {
	t.Helper()
	path := filepath.Join(dir, m.Name+ir.ExtLibrary)
	if err := m.WriteFile(path, ir.WriteOptions{}); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", path, err)
	}
	return path
}

func libModule() *ir.Module {
	m := ir.NewModule("Lib")
	box := m.NewType("Lib", "Box", ir.TypePublic)
	box.BaseType = m.CoreType("Object")
	box.AddField("value", m.CoreType("Int32"), false)
	get := box.NewMethod("Get", ir.MethodPublic, m.CoreType("Int32"))
	get.AddParameter("i", m.CoreType("Int32"))
	over := box.NewMethod("Get", ir.MethodPublic, m.CoreType("Int32"))
	over.AddParameter("s", m.CoreType("String"))
	return m
}

func TestOpenCachesInstance(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, libModule())
	r := New([]string{dir}, ir.ReadOptions{})

	a, err := r.Open("Lib")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := r.Open("Lib")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("Open should return the cached instance")
	}

	r.Release("Lib")
	c, err := r.Open("Lib")
	if err != nil {
		t.Fatal(err)
	}
	if c == a {
		t.Error("Open after Release should re-read the module")
	}
}

func TestOpenPrefersReadSet(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, libModule())
	r := New([]string{dir}, ir.ReadOptions{})

	mem := ir.NewModule("Lib")
	r.AddRead(mem)
	got, err := r.Open("Lib")
	if err != nil {
		t.Fatal(err)
	}
	if got != mem {
		t.Error("a module opened this run should win over the file on disk")
	}
}

func TestOpenCoreAndMissing(t *testing.T) {
	r := New(nil, ir.ReadOptions{})
	core, err := r.Open(ir.CoreModuleName)
	if err != nil {
		t.Fatalf("Open(core) error = %v", err)
	}
	if core.Type("System", "Object") == nil {
		t.Error("core module should define System.Object")
	}

	_, err = r.Open("Nowhere")
	if !errors.Is(err, ErrResolution) {
		t.Errorf("Open(missing) = %v, want ErrResolution", err)
	}
}

func TestOpenUnreadableReference(t *testing.T) {
	dir := t.TempDir()
	if err := ir.WriteAtomic(filepath.Join(dir, "Junk"+ir.ExtLibrary), []byte("junk")); err != nil {
		t.Fatal(err)
	}
	_, err := New([]string{dir}, ir.ReadOptions{}).Open("Junk")
	if !errors.Is(err, ErrResolution) || !errors.Is(err, ir.ErrUnreadable) {
		t.Errorf("Open(junk) = %v, want ErrResolution wrapping ErrUnreadable", err)
	}
}

func TestResolveMembers(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, libModule())
	r := New([]string{dir}, ir.ReadOptions{})
	box := ir.NewTypeRef("Lib", "Lib", "Box")

	def, err := r.ResolveType(box)
	if err != nil || def.Name != "Box" {
		t.Fatalf("ResolveType() = %v, %v", def, err)
	}

	m, err := r.ResolveMethod(&ir.MethodRef{
		DeclaringType:  box,
		Name:           "Get",
		ReturnType:     ir.CoreRef("Int32"),
		ParameterTypes: []*ir.TypeRef{ir.CoreRef("String")},
		HasThis:        true,
	})
	if err != nil {
		t.Fatalf("ResolveMethod() error = %v", err)
	}
	if m.Parameters[0].Name != "s" {
		t.Errorf("ResolveMethod picked the %s overload, want s", m.Parameters[0].Name)
	}

	// Same name and arity, but no overload takes a Double.
	_, err = r.ResolveMethod(&ir.MethodRef{
		DeclaringType:  box,
		Name:           "Get",
		ReturnType:     ir.CoreRef("Int32"),
		ParameterTypes: []*ir.TypeRef{ir.CoreRef("Double")},
		HasThis:        true,
	})
	if !errors.Is(err, ir.ErrMemberNotFound) {
		t.Errorf("ResolveMethod(mismatched overload) = %v, want ErrMemberNotFound", err)
	}

	f, err := r.ResolveField(&ir.FieldRef{DeclaringType: box, Name: "value", Type: ir.CoreRef("Int32")})
	if err != nil || f.Name != "value" {
		t.Errorf("ResolveField() = %v, %v", f, err)
	}

	_, err = r.ResolveType(ir.NewTypeRef("Lib", "Lib", "Nope"))
	if !errors.Is(err, ir.ErrTypeNotFound) {
		t.Errorf("ResolveType(missing) = %v, want ErrTypeNotFound", err)
	}
	_, err = r.ResolveField(&ir.FieldRef{DeclaringType: box, Name: "nope"})
	if !errors.Is(err, ir.ErrMemberNotFound) {
		t.Errorf("ResolveField(missing) = %v, want ErrMemberNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Order
// ---------------------------------------------------------------------------

func chain(refs map[string][]string, names ...string) []*ir.Module {
	var out []*ir.Module
	for _, n := range names {
		m := ir.NewModule(n)
		m.References = refs[n]
		out = append(out, m)
	}
	return out
}

func names(ms []*ir.Module) string {
	var s []string
	for _, m := range ms {
		s = append(s, m.Name)
	}
	return strings.Join(s, ",")
}

func TestOrder(t *testing.T) {
	self := func(m *ir.Module) *ir.Module { return m }
	abc := map[string][]string{"A": {"B"}, "B": {"C"}}

	tests := []struct {
		name  string
		refs  map[string][]string
		input []string
		want  string
	}{
		{"chain", abc, []string{"A", "B", "C"}, "C,B,A"},
		{"chain shuffled", abc, []string{"A", "C", "B"}, "C,B,A"},
		{"already ordered", abc, []string{"C", "B", "A"}, "C,B,A"},
		{"unrelated keep order", nil, []string{"X", "Y", "Z"}, "X,Y,Z"},
		{"external refs ignored", map[string][]string{"X": {"loom.core", "Elsewhere"}}, []string{"X", "Y"}, "X,Y"},
		{"cycle", map[string][]string{"A": {"B"}, "B": {"A"}}, []string{"A", "B", "C"}, "C,A,B"},
		{"diamond", map[string][]string{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}}, []string{"A", "B", "C", "D"}, "D,B,C,A"},
	}
	for _, tt := range tests {
		got := names(Order(chain(tt.refs, tt.input...), self))
		if got != tt.want {
			t.Errorf("%s: Order = %s, want %s", tt.name, got, tt.want)
		}
	}
}
