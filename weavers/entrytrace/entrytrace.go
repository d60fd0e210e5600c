// Package entrytrace is a transformation unit that makes traced methods
// print their name when entered.
//
// A method is traced when it, or the type declaring it, carries the Traced
// custom attribute. Abstract methods and methods without a body are left
// alone.
package entrytrace

import (
	"fmt"

	"github.com/chazu/loom/emit"
	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/weaver"
)

const (
	// Name is the unit's registry name.
	Name = "entrytrace"
	// Attribute marks methods and types to trace.
	Attribute = "Traced"
)

// Weaver inserts the entry trace.
type Weaver struct{}

// New returns the unit.
func New() weaver.Weaver { return &Weaver{} }

// Register adds the unit to r under Name.
func Register(r *weaver.Registry) error {
	return r.Register(Name, New)
}

func (*Weaver) Name() string { return Name }

// Weave prefixes every traced method with a Console.WriteLine of
// "enter <Type>::<Method>".
func (*Weaver) Weave(c *weaver.Context) error {
	writeLine := ir.CoreMethod("Console", "WriteLine")
	n := 0
	err := c.Methods(func(m *ir.MethodDef) error {
		if !Traced(m) || m.IsAbstract() || m.Body == nil || m.Body.Len() == 0 {
			return nil
		}
		_, err := emit.InsertHead(m, emit.WithResolver(c.Resolver)).
			LdStr(Message(m)).
			Call(writeLine).
			End()
		if err != nil {
			return fmt.Errorf("trace %s: %w", m.FullName(), err)
		}
		c.Log.Debugf("traced %s", m.FullName())
		n++
		return nil
	})
	if err != nil {
		return err
	}
	c.Log.Infof("traced %d methods", n)
	return nil
}

// Traced reports whether m or its declaring type asks for tracing.
func Traced(m *ir.MethodDef) bool {
	return m.HasAttribute(Attribute) || (m.DeclaringType != nil && m.DeclaringType.HasAttribute(Attribute))
}

// Message is the line printed on entry to m.
func Message(m *ir.MethodDef) string {
	return "enter " + m.DeclaringType.FullName() + "::" + m.Name
}
