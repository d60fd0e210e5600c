package emit

import (
	"fmt"

	"github.com/chazu/loom/generics"
	"github.com/chazu/loom/ir"
)

// PackArguments pushes an Object[] holding the current method's arguments,
// each boxed as its declared type.
func (e *Emitter) PackArguments() *Emitter {
	return e.guard(func() {
		e.LdcI4(len(e.method.Parameters)).NewArr(ir.CoreRef("Object"))
		for i, p := range e.method.Parameters {
			e.Dup().LdcI4(i).LdArg(p).Box(p.Type).StElemRef()
		}
	})
}

// PackCallArguments replaces the arguments of a pending call to m, already
// on the stack, with a single Object[] holding them in order. Two locals,
// __array<postfix> and __element<postfix>, are declared for the purpose;
// distinct postfixes keep repeated packing in one body apart.
func (e *Emitter) PackCallArguments(m *ir.MethodRef, postfix string) *Emitter {
	return e.guard(func() {
		object := ir.CoreRef("Object")
		array := e.DeclareLocal(fmt.Sprintf("__array%s", postfix), ir.ArrayOf(object))
		element := e.DeclareLocal(fmt.Sprintf("__element%s", postfix), object)

		n := len(m.ParameterTypes)
		e.LdcI4(n).NewArr(object).StLoc(array)
		for i := n - 1; i >= 0; i-- {
			t, err := generics.ParameterType(m, i)
			if err != nil {
				e.fail(err)
				return
			}
			e.Box(t).StLoc(element)
			e.LdLoc(array).LdcI4(i).LdLoc(element).StElemRef()
		}
		e.LdLoc(array)
	})
}
