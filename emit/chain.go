package emit

import (
	"fmt"
	"strings"

	"github.com/chazu/loom/generics"
	"github.com/chazu/loom/ir"
)

// hop is one resolved step of a member chain.
type hop struct {
	field *ir.FieldRef
	get   *ir.MethodRef
	set   *ir.MethodRef
	typ   *ir.TypeRef
}

// LoadChain pushes the value at a dotted path such as "a.b.c". The first
// name is a parameter of the method or else a member of this; every later
// name is a field or property of the previous value's type.
func (e *Emitter) LoadChain(path string) *Emitter {
	return e.guard(func() {
		root, hops, ok := e.walkChain(path)
		if !ok {
			return
		}
		e.loadRoot(root)
		for _, h := range hops {
			e.loadHop(h)
		}
	})
}

// SetChain stores a value at a dotted path. The owner of the last member is
// loaded first, then value pushes the value to store.
func (e *Emitter) SetChain(path string, value Block) *Emitter {
	return e.guard(func() {
		root, hops, ok := e.walkChain(path)
		if !ok {
			return
		}
		if len(hops) == 0 {
			value(e)
			e.StArg(root)
			return
		}
		last := hops[len(hops)-1]
		if last.field == nil && last.set == nil {
			e.fail(ir.Usagef("%s cannot be assigned", path))
			return
		}
		e.loadRoot(root)
		for _, h := range hops[:len(hops)-1] {
			e.loadHop(h)
		}
		value(e)
		if last.field != nil {
			e.StFld(last.field)
		} else {
			e.Call(last.set)
		}
	})
}

// walkChain resolves the path. root is the parameter the path starts from,
// or nil when it starts from this.
func (e *Emitter) walkChain(path string) (*ir.Parameter, []hop, bool) {
	names := strings.Split(path, ".")
	for _, n := range names {
		if n == "" {
			e.fail(ir.Usagef("malformed member path %q", path))
			return nil, nil, false
		}
	}

	var cur *ir.TypeRef
	root := e.method.Parameter(names[0])
	if root != nil {
		cur = unwrapByRef(root.Type)
		names = names[1:]
	} else {
		if e.method.IsStatic() {
			e.fail(ir.Usagef("%s is not a parameter of static method %s", names[0], e.method.Name))
			return nil, nil, false
		}
		cur = e.method.DeclaringType.SelfRef()
	}

	var hops []hop
	for _, name := range names {
		h, err := e.member(cur, name)
		if err != nil {
			e.fail(err)
			return nil, nil, false
		}
		hops = append(hops, h)
		cur = h.typ
	}
	return root, hops, true
}

func (e *Emitter) loadRoot(root *ir.Parameter) {
	if root != nil {
		e.LdArg(root)
		return
	}
	e.LdThis()
}

// member looks name up on t as a field first, then as a property. Types of
// members of generic instances are substituted against the instance.
func (e *Emitter) member(t *ir.TypeRef, name string) (hop, error) {
	def, err := e.resolveType(t)
	if err != nil {
		return hop{}, fmt.Errorf("%w: member %s: %w", ir.ErrUsage, name, err)
	}
	ctx := generics.ContextOf(t, nil)
	if f := def.Field(name); f != nil {
		ref := f.Ref()
		ref.DeclaringType = t
		return hop{field: ref, typ: generics.Substitute(f.Type, ctx)}, nil
	}
	if p := def.Property(name); p != nil {
		h := hop{typ: generics.Substitute(p.Type, ctx)}
		if g := p.GetMethod(); g != nil {
			h.get = g.Ref()
			h.get.DeclaringType = t
		}
		if s := p.SetMethod(); s != nil {
			h.set = s.Ref()
			h.set.DeclaringType = t
		}
		return h, nil
	}
	return hop{}, ir.Usagef("%s has no field or property %q", t, name)
}

func (e *Emitter) loadHop(h hop) {
	switch {
	case h.field != nil:
		e.LdFld(h.field)
	case h.get != nil:
		e.Call(h.get)
	default:
		e.fail(ir.Usagef("property of type %s has no getter", h.typ))
	}
}
