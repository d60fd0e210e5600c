package ir

import "github.com/google/uuid"

// CoreModuleName names the built-in core library module.
const CoreModuleName = "loom.core"

// coreMVID is fixed so that the core module has a stable identity.
var coreMVID = uuid.MustParse("6c6f6f6d-636f-7265-0000-000000000001")

var coreValueTypes = map[string]bool{
	"Int32":   true,
	"Int64":   true,
	"Double":  true,
	"Boolean": true,
	"Void":    true,
}

// CoreRef returns an unbound reference to System.<name> in the core module.
func CoreRef(name string) *TypeRef {
	t := NewTypeRef(CoreModuleName, "System", name)
	t.ValueType = coreValueTypes[name]
	return t
}

// CoreModule builds a fresh copy of the core library. The methods have no
// bodies; an evaluator implements them natively.
func CoreModule() *Module {
	m := &Module{Name: CoreModuleName, MVID: coreMVID}
	obj := CoreRef("Object")
	str := CoreRef("String")

	object := m.NewType("System", "Object", TypePublic)
	eq := object.NewMethod("Equals", MethodPublic|MethodStatic, CoreRef("Boolean"))
	eq.AddParameter("a", obj)
	eq.AddParameter("b", obj)
	object.NewMethod(".ctor", MethodPublic|MethodSpecialName, CoreRef("Void"))

	s := m.NewType("System", "String", TypePublic|TypeSealed)
	s.BaseType = obj
	op := s.NewMethod("op_Equality", MethodPublic|MethodStatic|MethodSpecialName, CoreRef("Boolean"))
	op.AddParameter("a", str)
	op.AddParameter("b", str)

	for _, name := range []string{"Int32", "Int64", "Double", "Boolean", "Void"} {
		v := m.NewType("System", name, TypePublic|TypeSealed|TypeValueType)
		v.BaseType = obj
	}

	exc := m.NewType("System", "Exception", TypePublic)
	exc.BaseType = obj
	exc.AddField("message", str, false)
	ector := exc.NewMethod(".ctor", MethodPublic|MethodSpecialName, CoreRef("Void"))
	ector.AddParameter("message", str)

	inv := m.NewType("System", "InvalidOperationException", TypePublic)
	inv.BaseType = CoreRef("Exception")
	ictor := inv.NewMethod(".ctor", MethodPublic|MethodSpecialName, CoreRef("Void"))
	ictor.AddParameter("message", str)

	console := m.NewType("System", "Console", TypePublic|TypeAbstract|TypeSealed)
	console.BaseType = obj
	wl := console.NewMethod("WriteLine", MethodPublic|MethodStatic, CoreRef("Void"))
	wl.AddParameter("value", str)

	return m
}

// CoreMethod returns a reference to a core method by type and method name.
// It panics if the method does not exist; callers use it with constant names.
func CoreMethod(typeName, method string) *MethodRef {
	t := CoreModule().Type("System", typeName)
	if t == nil || t.Method(method) == nil {
		panic("ir: no core method System." + typeName + "::" + method)
	}
	return t.Method(method).Ref()
}
