// Package discovery finds module files under root directories and sorts them
// into plugins, backups, already woven modules and modules to weave.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/chazu/loom/ir"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.discovery")

// Kind classifies a module file.
type Kind uint8

const (
	NotApplicable Kind = iota
	Plugin
	AlreadyWoven
	NeedsWeaving
	Backup
)

func (k Kind) String() string {
	switch k {
	case Plugin:
		return "plugin"
	case AlreadyWoven:
		return "woven"
	case NeedsWeaving:
		return "target"
	case Backup:
		return "backup"
	default:
		return "n/a"
	}
}

// File naming conventions.
const (
	PluginSuffix     = ".Weaver"
	BackupSuffix     = ".orig"
	BackupStemSuffix = "_"
	SymbolsExtension = ".lsym"
)

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// Classify decides what the file at path is. Naming conventions win; other
// files are decoded once to look for the stamp or the weave-me attribute.
// A file that cannot be decoded is NotApplicable, not an error.
func Classify(path string) Kind {
	name := filepath.Base(path)
	if strings.HasSuffix(name, BackupSuffix) {
		return Backup
	}
	ext := moduleExt(name)
	if ext == "" {
		return NotApplicable
	}
	stem := strings.TrimSuffix(name, ext)
	switch {
	case strings.HasSuffix(stem, PluginSuffix):
		return Plugin
	case strings.HasSuffix(stem, BackupStemSuffix):
		return Backup
	}
	return probe(path)
}

func probe(path string) Kind {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Debugf("probe %s: %v", path, err)
		return NotApplicable
	}
	m, err := ir.Decode(data)
	if err != nil {
		log.Debugf("probe %s: %v", path, err)
		return NotApplicable
	}
	switch {
	case m.Stamped():
		return AlreadyWoven
	case m.WantsWeaving():
		return NeedsWeaving
	}
	return NotApplicable
}

func moduleExt(name string) string {
	for _, ext := range ir.Extensions() {
		if strings.HasSuffix(name, ext) {
			return ext
		}
	}
	return ""
}

// PluginName returns the unit name a plugin file selects: "Foo" for
// Foo.Weaver.lmod. Files that are not plugins give "".
func PluginName(path string) string {
	name := filepath.Base(path)
	ext := moduleExt(name)
	if ext == "" {
		return ""
	}
	stem := strings.TrimSuffix(name, ext)
	if !strings.HasSuffix(stem, PluginSuffix) {
		return ""
	}
	return strings.TrimSuffix(stem, PluginSuffix)
}

// SymbolsFor returns the debug side-file of the module at path, or "" if it
// has none. The appended form <file>.sym is preferred over <stem>.lsym.
func SymbolsFor(path string) string {
	appended := ir.SymbolPath(path)
	if fileExists(appended) {
		return appended
	}
	if ext := moduleExt(path); ext != "" {
		replaced := strings.TrimSuffix(path, ext) + SymbolsExtension
		if fileExists(replaced) {
			return replaced
		}
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ---------------------------------------------------------------------------
// Scanning
// ---------------------------------------------------------------------------

// File is a classified module file.
type File struct {
	Path    string
	Kind    Kind
	Symbols string
}

// Result groups the files found by Scan.
type Result struct {
	// Dirs holds the distinct directories of every module file found.
	Dirs    []string
	Targets []File
	Plugins []File
	Woven   []File
	Backups []File
}

// All returns every classified file except NotApplicable ones.
func (r *Result) All() []File {
	var out []File
	out = append(out, r.Targets...)
	out = append(out, r.Plugins...)
	out = append(out, r.Woven...)
	return append(out, r.Backups...)
}

// Scan walks each root recursively. Roots that do not exist are skipped.
// A file reached from more than one root is classified once.
func Scan(roots ...string) (*Result, error) {
	var paths []string
	seen := make(map[string]bool)
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", root, err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			log.Debugf("skipping missing root %s", abs)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || seen[p] || !candidate(d.Name()) {
				return nil
			}
			seen[p] = true
			paths = append(paths, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", abs, err)
		}
	}

	r := &Result{}
	for _, p := range paths {
		f := File{Path: p, Kind: Classify(p)}
		if dir := filepath.Dir(p); !slices.Contains(r.Dirs, dir) {
			r.Dirs = append(r.Dirs, dir)
		}
		switch f.Kind {
		case NeedsWeaving:
			f.Symbols = SymbolsFor(p)
			r.Targets = append(r.Targets, f)
		case AlreadyWoven:
			f.Symbols = SymbolsFor(p)
			r.Woven = append(r.Woven, f)
		case Plugin:
			r.Plugins = append(r.Plugins, f)
		case Backup:
			r.Backups = append(r.Backups, f)
		}
		log.Debugf("%s: %s", p, f.Kind)
	}
	return r, nil
}

// candidate reports whether a file name is a module or a backup of one.
func candidate(name string) bool {
	return moduleExt(strings.TrimSuffix(name, BackupSuffix)) != ""
}
