// Package hierarchy answers "implements" and "derives from" questions about
// types in the currently open module set, memoizing the answers.
package hierarchy

import (
	"fmt"
	"strings"

	"github.com/chazu/loom/ir"
)

type relation uint8

const (
	relImplements relation = iota
	relDerives
)

type key struct {
	rel    relation
	typ    string
	target string
}

// Cache memoizes type relationship queries. Type identities are only
// meaningful for one set of open modules, so the pipeline calls Reset at the
// start of every run.
type Cache struct {
	resolver ir.TypeResolver
	entries  map[key]bool
}

// New creates an empty cache that resolves through r.
func New(r ir.TypeResolver) *Cache {
	return &Cache{resolver: r, entries: make(map[key]bool)}
}

// Reset drops every memoized answer and rebinds the cache to r.
func (c *Cache) Reset(r ir.TypeResolver) {
	c.resolver = r
	clear(c.entries)
}

// Len returns the number of memoized answers.
func (c *Cache) Len() int { return len(c.entries) }

// Implements reports whether t implements the interface named iface,
// directly, through an interface it declares, or through its base types.
// The name may be open ("Ns.IList`1") or closed ("Ns.IList`1<System.String>").
func (c *Cache) Implements(t *ir.TypeRef, iface string) bool {
	return c.memo(relImplements, t, iface, c.implements)
}

// DerivesFrom reports whether base appears in t's base type chain.
func (c *Cache) DerivesFrom(t *ir.TypeRef, base string) bool {
	return c.memo(relDerives, t, base, c.derives)
}

// IsSubclassOf reports whether t derives from or implements fullName.
func (c *Cache) IsSubclassOf(t *ir.TypeRef, fullName string) bool {
	return c.DerivesFrom(t, fullName) || c.Implements(t, fullName)
}

// Is reports whether a value of type t can be used where other is expected.
func (c *Cache) Is(t, other *ir.TypeRef) bool {
	if t == nil || other == nil {
		return false
	}
	if identity(t) == identity(other) {
		return true
	}
	return c.IsSubclassOf(t, other.FullName())
}

func (c *Cache) memo(rel relation, t *ir.TypeRef, target string, compute func(*ir.TypeRef, string) bool) bool {
	if t == nil {
		return false
	}
	k := key{rel, identity(t), target}
	if v, ok := c.entries[k]; ok {
		return v
	}
	// Seed with false so a cyclic hierarchy terminates.
	c.entries[k] = false
	v := compute(t, target)
	c.entries[k] = v
	return v
}

// identity renders t like FullName, except that generic parameters are named
// by their definition. Two parameters called T on different owners have
// different constraints and must not share answers.
func identity(t *ir.TypeRef) string {
	if t == nil {
		return "(null)"
	}
	switch t.Kind {
	case ir.KindGenericParam:
		return fmt.Sprintf("%s@%p", t.FullName(), t.Param)
	case ir.KindGenericInstance:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = identity(a)
		}
		return identity(t.Element) + "<" + strings.Join(args, ",") + ">"
	case ir.KindByRef:
		return identity(t.Element) + "&"
	case ir.KindArray:
		return identity(t.Element) + "[]"
	}
	return t.FullName()
}

func matches(t *ir.TypeRef, target string) bool {
	return t.FullName() == target || t.Open().FullName() == target
}

// resolve returns the definition behind t, or nil when it cannot be found.
// Resolution failures mean the relationship does not hold.
func (c *Cache) resolve(t *ir.TypeRef) *ir.TypeDef {
	if c.resolver == nil {
		return nil
	}
	def, err := c.resolver.ResolveType(t.Open())
	if err != nil {
		return nil
	}
	return def
}

func (c *Cache) implements(t *ir.TypeRef, iface string) bool {
	switch t.Kind {
	case ir.KindArray, ir.KindByRef:
		return false
	case ir.KindGenericParam:
		if t.Param == nil {
			return false
		}
		for _, con := range t.Param.Constraints {
			if matches(con, iface) || c.Implements(con, iface) {
				return true
			}
		}
		return false
	}
	def := c.resolve(t)
	if def == nil {
		return false
	}
	for _, i := range def.Interfaces {
		if matches(i, iface) || c.Implements(i, iface) {
			return true
		}
	}
	if def.BaseType != nil {
		return c.Implements(def.BaseType, iface)
	}
	return false
}

func (c *Cache) derives(t *ir.TypeRef, base string) bool {
	switch t.Kind {
	case ir.KindArray, ir.KindByRef:
		return false
	case ir.KindGenericParam:
		if t.Param == nil {
			return false
		}
		for _, con := range t.Param.Constraints {
			if matches(con, base) || c.DerivesFrom(con, base) {
				return true
			}
		}
		return false
	}
	def := c.resolve(t)
	if def == nil || def.BaseType == nil {
		return false
	}
	if matches(def.BaseType, base) {
		return true
	}
	return c.DerivesFrom(def.BaseType, base)
}
