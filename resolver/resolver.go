// Package resolver opens referenced modules at most once per run and orders
// batches of modules so that referenced modules come first.
package resolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/chazu/loom/ir"
)

// ErrResolution is returned when a referenced module cannot be found in any
// search directory.
var ErrResolution = errors.New("module not found")

// Resolver maps module names to open module instances. It holds at most one
// instance per name; targets opened by the pipeline are registered with
// AddRead so that references to them see the in-memory copy.
type Resolver struct {
	dirs  []string
	opts  ir.ReadOptions
	cache map[string]*ir.Module
	read  map[string]*ir.Module
	core  *ir.Module
}

// New creates a resolver searching dirs in order.
func New(dirs []string, opts ir.ReadOptions) *Resolver {
	r := &Resolver{
		opts:  opts,
		cache: make(map[string]*ir.Module),
		read:  make(map[string]*ir.Module),
	}
	for _, d := range dirs {
		r.AddSearchDirectory(d)
	}
	return r
}

// AddSearchDirectory appends dir to the search path unless already present.
func (r *Resolver) AddSearchDirectory(dir string) {
	if dir == "" || slices.Contains(r.dirs, dir) {
		return
	}
	r.dirs = append(r.dirs, dir)
}

// SearchDirectories returns the search path.
func (r *Resolver) SearchDirectories() []string {
	return slices.Clone(r.dirs)
}

// AddRead registers a module opened elsewhere during this run.
func (r *Resolver) AddRead(m *ir.Module) {
	r.read[m.Name] = m
}

// Open returns the open instance for name, reading it from the search
// directories on first use.
func (r *Resolver) Open(name string) (*ir.Module, error) {
	if m, ok := r.cache[name]; ok {
		return m, nil
	}
	if m, ok := r.read[name]; ok {
		r.cache[name] = m
		return m, nil
	}
	for _, dir := range r.dirs {
		for _, ext := range ir.Extensions() {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			m, err := ir.ReadFile(path, r.opts)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrResolution, name, err)
			}
			if m.Name != name {
				continue
			}
			r.cache[name] = m
			return m, nil
		}
	}
	if name == ir.CoreModuleName {
		if r.core == nil {
			r.core = ir.CoreModule()
		}
		r.cache[name] = r.core
		return r.core, nil
	}
	return nil, fmt.Errorf("%w: %s (searched %v)", ErrResolution, name, r.dirs)
}

// Release evicts name so that the next Open re-resolves it. The module value
// itself is left untouched.
func (r *Resolver) Release(name string) {
	delete(r.cache, name)
	delete(r.read, name)
}

// Close drops all state.
func (r *Resolver) Close() {
	clear(r.cache)
	clear(r.read)
	r.core = nil
}

// ---------------------------------------------------------------------------
// Member resolution
// ---------------------------------------------------------------------------

// ResolveType returns the definition behind a named (or instantiated) type.
func (r *Resolver) ResolveType(ref *ir.TypeRef) (*ir.TypeDef, error) {
	ref = ref.Open()
	if ref == nil || ref.Kind != ir.KindNamed {
		return nil, fmt.Errorf("%w: %s is not a named type", ir.ErrTypeNotFound, ref)
	}
	m, err := r.Open(ref.Scope)
	if err != nil {
		return nil, err
	}
	def := m.TypeByFullName(ref.FullName())
	if def == nil {
		return nil, fmt.Errorf("%w: %s in %s", ir.ErrTypeNotFound, ref.FullName(), m.Name)
	}
	return def, nil
}

// ResolveMethod returns the definition behind a method reference. Closed
// references are matched through their open element. A reference whose
// signature matches no overload is an error, never a guess.
func (r *Resolver) ResolveMethod(ref *ir.MethodRef) (*ir.MethodDef, error) {
	def, err := r.ResolveType(ref.DeclaringType)
	if err != nil {
		return nil, err
	}
	open := ref.Open()
	for _, m := range def.Methods {
		if m.Name != open.Name || len(m.Parameters) != len(open.ParameterTypes) {
			continue
		}
		if m.Ref().SameSignature(open) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ir.ErrMemberNotFound, ref.FullName())
}

// ResolveField returns the definition behind a field reference.
func (r *Resolver) ResolveField(ref *ir.FieldRef) (*ir.FieldDef, error) {
	def, err := r.ResolveType(ref.DeclaringType)
	if err != nil {
		return nil, err
	}
	if f := def.Field(ref.Name); f != nil {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ir.ErrMemberNotFound, ref.FullName())
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

// Order returns items sorted so that whenever one item's module references
// another item's module, the referenced one comes first. The sort is
// topological over the whole batch, so chains of any length are honored.
// Ties keep encounter order; a cycle is broken by taking the earliest
// remaining item.
func Order[T any](items []T, module func(T) *ir.Module) []T {
	index := make(map[string]int, len(items))
	for i, it := range items {
		if m := module(it); m != nil {
			if _, dup := index[m.Name]; !dup {
				index[m.Name] = i
			}
		}
	}
	deps := make([][]int, len(items))
	for i, it := range items {
		m := module(it)
		if m == nil {
			continue
		}
		for _, ref := range m.References {
			if j, ok := index[ref]; ok && j != i {
				deps[i] = append(deps[i], j)
			}
		}
	}

	done := make([]bool, len(items))
	out := make([]T, 0, len(items))
	ready := func(i int) bool {
		for _, j := range deps[i] {
			if !done[j] {
				return false
			}
		}
		return true
	}
	for len(out) < len(items) {
		next := -1
		for i := range items {
			if !done[i] && ready(i) {
				next = i
				break
			}
		}
		if next < 0 {
			next = slices.Index(done, false)
		}
		done[next] = true
		out = append(out, items[next])
	}
	return out
}
