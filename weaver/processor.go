package weaver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/chazu/loom/discovery"
	"github.com/chazu/loom/generics"
	"github.com/chazu/loom/hierarchy"
	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/resolver"
)

// Target is a module file to weave and its debug symbol side-file, if any.
type Target struct {
	Path    string
	Symbols string
}

// Written describes one module file persisted by a run.
type Written struct {
	Module string
	Path   string
	// Before is the content that was replaced, nil if the file was
	// unreadable just before the write.
	Before []byte
	After  []byte
}

// Report summarizes a run.
type Report struct {
	// Woven lists the files written, in write order.
	Woven []string
	// Skipped lists targets that were already stamped.
	Skipped []string
	// Dropped lists targets that could not be read.
	Dropped []string
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithLogger sets the logger handed to units and used for progress lines.
func WithLogger(l Logger) ProcessorOption {
	return func(p *Processor) { p.log = l }
}

// WithDebugSymbols enables reading and writing symbol side-files.
func WithDebugSymbols(on bool) ProcessorOption {
	return func(p *Processor) { p.symbols = on }
}

// WithWriteHook calls fn for each module file once every file of the run
// has been written, in write order. Errors from fn are logged; they never
// undo or stop persistence.
func WithWriteHook(fn func(Written) error) ProcessorOption {
	return func(p *Processor) { p.onWrite = fn }
}

// Processor is the module pipeline. It is not safe for concurrent use; the
// hierarchy cache and generic resolver it owns live across runs and are
// reset at the start of each one.
type Processor struct {
	log     Logger
	symbols bool
	onWrite func(Written) error

	lookup  []string
	targets []Target

	hierarchy *hierarchy.Cache
	generics  *generics.Resolver
}

// NewProcessor creates an empty pipeline.
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		log:       defaultLogger(),
		symbols:   true,
		hierarchy: hierarchy.New(nil),
		generics:  generics.New(nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddLookupDirectories adds directories searched for referenced modules.
func (p *Processor) AddLookupDirectories(dirs ...string) {
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		if !slices.Contains(p.lookup, d) {
			p.lookup = append(p.lookup, d)
		}
	}
}

// AddTargets adds module files to weave. A path added twice is kept once.
// Targets without a symbol path get the side-file found next to them.
func (p *Processor) AddTargets(targets ...Target) {
	for _, t := range targets {
		if abs, err := filepath.Abs(t.Path); err == nil {
			t.Path = abs
		}
		if slices.ContainsFunc(p.targets, func(o Target) bool { return o.Path == t.Path }) {
			continue
		}
		if t.Symbols == "" {
			t.Symbols = discovery.SymbolsFor(t.Path)
		}
		p.targets = append(p.targets, t)
	}
}

// Targets returns the targets added so far.
func (p *Processor) Targets() []Target {
	return slices.Clone(p.targets)
}

type openTarget struct {
	Target
	mod *ir.Module
}

// Run weaves every target with units, in order. On success the targets are
// stamped and written back so that referenced modules are written before
// the modules referencing them. If any unit fails, nothing is written and a
// *TransformationError is returned.
func (p *Processor) Run(ctx context.Context, units ...Weaver) (*Report, error) {
	defer measure(p.log, "processing")()

	r := resolver.New(p.searchDirectories(), ir.ReadOptions{Symbols: p.symbols})
	defer r.Close()
	p.hierarchy.Reset(r)
	p.generics.Reset(r)

	report := &Report{}
	open, err := p.read(ctx, r, report)
	if err != nil {
		return report, err
	}
	if len(open) == 0 {
		p.log.Noticef("nothing to weave")
		return report, nil
	}

	wctx := &Context{
		Log:       p.log,
		Resolver:  r,
		Hierarchy: p.hierarchy,
		Generics:  p.generics,
	}
	for _, t := range open {
		wctx.Modules = append(wctx.Modules, t.mod)
	}
	for _, u := range units {
		if err := ctx.Err(); err != nil {
			p.release(r, open)
			return report, err
		}
		p.log.Infof("weaving with %s", u.Name())
		if err := p.weave(u, wctx); err != nil {
			p.log.Errorf("%v", err)
			p.release(r, open)
			return report, err
		}
	}

	if err := p.write(r, open, report); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Processor) searchDirectories() []string {
	dirs := slices.Clone(p.lookup)
	for _, t := range p.targets {
		if d := filepath.Dir(t.Path); !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (p *Processor) read(ctx context.Context, r *resolver.Resolver, report *Report) ([]*openTarget, error) {
	var open []*openTarget
	for _, t := range p.targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.log.Debugf("reading %s", t.Path)
		m, err := ir.ReadFile(t.Path, ir.ReadOptions{Symbols: p.symbols && t.Symbols != "", SymbolPath: t.Symbols})
		if err != nil {
			p.log.Warningf("skipping %s: %v", t.Path, err)
			report.Dropped = append(report.Dropped, t.Path)
			continue
		}
		if m.Stamped() {
			p.log.Infof("already woven: %s", t.Path)
			report.Skipped = append(report.Skipped, t.Path)
			continue
		}
		r.AddRead(m)
		open = append(open, &openTarget{Target: t, mod: m})
	}
	return open, nil
}

// weave runs one unit, turning errors and panics into a
// TransformationError, then checks that every reference the unit added was
// imported.
func (p *Processor) weave(u Weaver, c *Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if e, ok := rec.(error); ok {
				err = &TransformationError{Unit: u.Name(), Err: fmt.Errorf("panic: %w", e)}
			} else {
				err = &TransformationError{Unit: u.Name(), Err: fmt.Errorf("panic: %v", rec)}
			}
		}
	}()
	if err := u.Weave(c); err != nil {
		return &TransformationError{Unit: u.Name(), Err: err}
	}
	for _, m := range c.Modules {
		if err := m.ValidateReferences(); err != nil {
			return &TransformationError{Unit: u.Name(), Err: fmt.Errorf("%s: %w", m.Name, err)}
		}
	}
	return nil
}

// release drops the open targets without writing them.
func (p *Processor) release(r *resolver.Resolver, open []*openTarget) {
	for _, t := range resolver.Order(open, moduleOf) {
		r.Release(t.mod.Name)
	}
}

func moduleOf(t *openTarget) *ir.Module { return t.mod }

type encoded struct {
	*openTarget
	data    []byte
	sym     []byte
	symPath string
}

// write stamps, releases and encodes every target before writing the first
// one, so that an encoding failure leaves all files untouched.
func (p *Processor) write(r *resolver.Resolver, open []*openTarget, report *Report) error {
	ordered := resolver.Order(open, moduleOf)
	out := make([]encoded, 0, len(ordered))
	for _, t := range ordered {
		t.mod.AddStamp()
		r.Release(t.mod.Name)
		data, err := t.mod.Encode()
		if err != nil {
			p.release(r, open)
			return fmt.Errorf("encode %s: %w", t.Path, err)
		}
		e := encoded{openTarget: t, data: data}
		if p.symbols && t.Symbols != "" {
			if e.sym, err = t.mod.EncodeSymbols(); err != nil {
				p.release(r, open)
				return fmt.Errorf("encode symbols %s: %w", t.Symbols, err)
			}
			e.symPath = t.Symbols
		}
		out = append(out, e)
	}

	var written []Written
	for _, e := range out {
		var before []byte
		if p.onWrite != nil {
			before, _ = os.ReadFile(e.Path)
		}
		p.log.Infof("writing %s", e.Path)
		if err := ir.WriteAtomic(e.Path, e.data); err != nil {
			return fmt.Errorf("write %s: %w", e.Path, err)
		}
		if e.sym != nil {
			if err := ir.WriteAtomic(e.symPath, e.sym); err != nil {
				return fmt.Errorf("write %s: %w", e.symPath, err)
			}
		}
		report.Woven = append(report.Woven, e.Path)
		if p.onWrite != nil {
			written = append(written, Written{Module: e.mod.Name, Path: e.Path, Before: before, After: e.data})
		}
	}

	for _, w := range written {
		if err := p.onWrite(w); err != nil {
			p.log.Warningf("write hook for %s: %v", w.Path, err)
		}
	}
	return nil
}
