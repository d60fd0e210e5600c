// Package weaver runs transformation units over a batch of modules and
// persists the result exactly once per module.
//
// A run reads every target into memory, hands the open set to each unit in
// turn and, only if all of them succeed, stamps the modules, encodes them and
// writes them back in dependency order. A failing unit leaves every file on
// disk untouched.
package weaver

import (
	"fmt"
	"time"

	"github.com/chazu/loom/generics"
	"github.com/chazu/loom/hierarchy"
	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/resolver"
	"github.com/tliron/commonlog"
)

// Logger is the part of commonlog.Logger the pipeline uses.
type Logger interface {
	Errorf(format string, values ...any)
	Warningf(format string, values ...any)
	Noticef(format string, values ...any)
	Infof(format string, values ...any)
	Debugf(format string, values ...any)
}

func defaultLogger() Logger {
	return commonlog.GetLogger("loom.weaver")
}

// Weaver is a transformation unit.
type Weaver interface {
	Name() string
	Weave(*Context) error
}

// Context is what a unit sees during a run. Everything in it is valid only
// until Weave returns.
type Context struct {
	// Modules holds the open targets, in the order they were added.
	Modules []*ir.Module
	Log     Logger
	// Resolver opens referenced modules; the targets are registered with it.
	Resolver  *resolver.Resolver
	Hierarchy *hierarchy.Cache
	Generics  *generics.Resolver
}

// Methods calls fn for every method of every type in the open modules and
// stops at the first error.
func (c *Context) Methods(fn func(*ir.MethodDef) error) error {
	for _, m := range c.Modules {
		for _, t := range m.Types {
			for _, md := range t.Methods {
				if err := fn(md); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// TransformationError reports a unit that failed or panicked. Nothing was
// written when it is returned.
type TransformationError struct {
	Unit string
	Err  error
}

func (e *TransformationError) Error() string {
	return fmt.Sprintf("weaver %s: %v", e.Unit, e.Err)
}

func (e *TransformationError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Function units
// ---------------------------------------------------------------------------

type funcWeaver struct {
	name string
	fn   func(*Context) error
}

func (f funcWeaver) Name() string           { return f.name }
func (f funcWeaver) Weave(c *Context) error { return f.fn(c) }

// Func turns fn into a unit called name.
func Func(name string, fn func(*Context) error) Weaver {
	return funcWeaver{name: name, fn: fn}
}

// ---------------------------------------------------------------------------
// Timing
// ---------------------------------------------------------------------------

// measure logs how long the caller took once the returned func runs.
func measure(log Logger, what string) func() {
	start := time.Now()
	return func() {
		log.Infof("== finished %s in %.3f sec", what, time.Since(start).Seconds())
	}
}
