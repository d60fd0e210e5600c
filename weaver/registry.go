package weaver

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrUnknownWeaver is returned by Lookup for names nobody registered.
	ErrUnknownWeaver = errors.New("unknown weaver")
	// ErrDuplicateWeaver is returned by Register for a name already taken.
	ErrDuplicateWeaver = errors.New("weaver already registered")
)

// Factory creates a fresh unit for one run.
type Factory func() Weaver

type entry struct {
	name    string
	factory Factory
}

// Registry maps unit names to factories. Names are matched without regard
// to case, so a plugin file Trace.Weaver.lmod selects the unit "trace".
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, f Factory) error {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateWeaver, name)
	}
	r.entries[key] = entry{name: name, factory: f}
	return nil
}

// Lookup creates the unit registered under name.
func (r *Registry) Lookup(name string) (Weaver, error) {
	r.mu.RLock()
	e, ok := r.entries[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWeaver, name)
	}
	return e.factory(), nil
}

// Names returns the registered names in sorted order, as they were spelled
// when registered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.name)
	}
	slices.SortFunc(names, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return names
}
