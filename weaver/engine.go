package weaver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/loom/backup"
	"github.com/chazu/loom/discovery"
	"github.com/chazu/loom/journal"
)

// Options configures an Engine.
type Options struct {
	// Search holds extra directories for resolving references.
	Search []string
	// Weavers names registered units run before any discovered plugin.
	Weavers []string
	// Backup saves every target before it is woven.
	Backup       bool
	DebugSymbols bool
	// Reweave restores already woven modules and weaves them again.
	Reweave bool
	// Store holds the backups; nil means backup.New("").
	Store *backup.Store
	// Journal, when set, records every run and every file written.
	Journal *journal.Journal
	Log     Logger
}

// Engine ties discovery, backup, the pipeline and the journal together.
type Engine struct {
	reg  *Registry
	opts Options
}

// NewEngine creates an engine that takes units from reg.
func NewEngine(reg *Registry, opts Options) *Engine {
	if opts.Log == nil {
		opts.Log = defaultLogger()
	}
	if opts.Store == nil {
		opts.Store = backup.New("")
	}
	return &Engine{reg: reg, opts: opts}
}

// Weave scans dirs, backs up the modules that need weaving and runs the
// configured units plus every plugin found over them.
func (e *Engine) Weave(ctx context.Context, dirs ...string) (rep *Report, err error) {
	log := e.opts.Log
	defer measure(log, "weaving")()

	res, err := discovery.Scan(dirs...)
	if err != nil {
		return nil, err
	}
	units, err := e.units(res.Plugins)
	if err != nil {
		return nil, err
	}

	run, err := e.begin(ctx, "weave")
	if err != nil {
		return nil, err
	}
	defer func() { e.finish(ctx, run, err) }()

	if e.opts.Reweave && len(res.Woven) > 0 {
		restored, err := e.restore(ctx, run, res.Woven)
		if err != nil {
			return nil, err
		}
		res.Targets = append(res.Targets, restored...)
		res.Woven = nil
	}
	if len(res.Targets) == 0 {
		log.Noticef("no modules to weave under %s", strings.Join(dirs, ", "))
		return &Report{}, nil
	}

	if e.opts.Backup {
		if err := e.opts.Store.SaveAll(ctx, items(res.Targets)); err != nil {
			return nil, fmt.Errorf("backup: %w", err)
		}
	}

	opts := []ProcessorOption{WithLogger(log), WithDebugSymbols(e.opts.DebugSymbols)}
	if run != nil {
		// The files are already on disk by the time the hook runs.
		jctx := context.WithoutCancel(ctx)
		opts = append(opts, WithWriteHook(func(w Written) error {
			return run.RecordWrite(jctx, w.Module, w.Path, w.Before, w.After)
		}))
	}
	p := NewProcessor(opts...)
	p.AddLookupDirectories(res.Dirs...)
	p.AddLookupDirectories(e.opts.Search...)
	for _, f := range res.Targets {
		p.AddTargets(Target{Path: f.Path, Symbols: f.Symbols})
	}
	return p.Run(ctx, units...)
}

// Restore scans dirs and puts back the backup of every woven module.
func (e *Engine) Restore(ctx context.Context, dirs ...string) (rep *Report, err error) {
	defer measure(e.opts.Log, "restore")()

	res, err := discovery.Scan(dirs...)
	if err != nil {
		return nil, err
	}
	run, err := e.begin(ctx, "restore")
	if err != nil {
		return nil, err
	}
	defer func() { e.finish(ctx, run, err) }()

	if _, err := e.restore(ctx, run, res.Woven); err != nil {
		return nil, err
	}
	rep = &Report{}
	for _, f := range res.Woven {
		rep.Woven = append(rep.Woven, f.Path)
	}
	return rep, nil
}

// restore puts back files and returns the ones that now need weaving.
func (e *Engine) restore(ctx context.Context, run *journal.Run, files []discovery.File) ([]discovery.File, error) {
	before := make([][]byte, len(files))
	if run != nil {
		for i, f := range files {
			before[i], _ = os.ReadFile(f.Path)
		}
	}
	if err := e.opts.Store.RestoreAll(ctx, items(files)); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}

	var out []discovery.File
	for i, f := range files {
		if run != nil {
			after, err := os.ReadFile(f.Path)
			if err != nil {
				return nil, err
			}
			if err := run.RecordWrite(ctx, moduleName(f.Path), f.Path, before[i], after); err != nil {
				return nil, err
			}
		}
		if discovery.Classify(f.Path) == discovery.NeedsWeaving {
			f.Kind = discovery.NeedsWeaving
			out = append(out, f)
		}
	}
	return out, nil
}

// units resolves the configured unit names followed by one unit per plugin
// file. A name selected twice runs once.
func (e *Engine) units(plugins []discovery.File) ([]Weaver, error) {
	names := append([]string(nil), e.opts.Weavers...)
	for _, f := range plugins {
		names = append(names, discovery.PluginName(f.Path))
	}

	var units []Weaver
	seen := make(map[string]bool)
	for _, name := range names {
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		u, err := e.reg.Lookup(name)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

func (e *Engine) begin(ctx context.Context, mode string) (*journal.Run, error) {
	if e.opts.Journal == nil {
		return nil, nil
	}
	return e.opts.Journal.Begin(ctx, mode)
}

func (e *Engine) finish(ctx context.Context, run *journal.Run, runErr error) {
	if run == nil {
		return
	}
	if err := run.Finish(context.WithoutCancel(ctx), runErr); err != nil {
		e.opts.Log.Warningf("%v", err)
	}
}

func moduleName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func items(files []discovery.File) []backup.Item {
	out := make([]backup.Item, len(files))
	for i, f := range files {
		out[i] = backup.Item{Path: f.Path, Symbols: f.Symbols}
	}
	return out
}

// IsTransformationError reports whether err came from a failing unit.
func IsTransformationError(err error) bool {
	var te *TransformationError
	return errors.As(err, &te)
}
