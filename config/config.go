// Package config handles loom.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("loom.config")

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "loom.toml"

// Config represents a loom.toml file.
type Config struct {
	Weave Weave `toml:"weave"`

	// Dir is the directory containing the loom.toml file (set at load time).
	Dir string `toml:"-"`
}

// Weave configures a weaving run.
type Weave struct {
	// Dirs are scanned recursively for targets and plugins.
	Dirs []string `toml:"dirs"`
	// Search holds extra directories for resolving references.
	Search []string `toml:"search"`
	// Weavers names registered units that always run.
	Weavers      []string `toml:"weavers"`
	Backup       bool     `toml:"backup"`
	DebugSymbols bool     `toml:"debug-symbols"`
	Reweave      bool     `toml:"reweave"`
	BackupRoot   string   `toml:"backup-root"`
	// Journal is a sqlite database path; empty disables the journal.
	Journal string `toml:"journal"`
}

// Default returns the configuration used when no loom.toml exists.
func Default(dir string) *Config {
	return &Config{
		Dir: dir,
		Weave: Weave{
			Dirs:         []string{"."},
			Backup:       true,
			DebugSymbols: true,
		},
	}
}

// Load parses the loom.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file. Relative paths in it are taken
// from the file's directory. Keys left out keep their defaults; unknown
// keys are logged and ignored.
func LoadFile(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	path = abs
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default(filepath.Dir(path))
	c.Weave.Dirs = nil
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		log.Warningf("%s: unknown key %s", path, key)
	}
	if len(c.Weave.Dirs) == 0 {
		c.Weave.Dirs = []string{"."}
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a loom.toml file, then loads
// and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// DirPaths returns absolute paths for the configured weave directories.
func (c *Config) DirPaths() []string {
	return c.abs(c.Weave.Dirs)
}

// SearchPaths returns absolute paths for the configured search directories.
func (c *Config) SearchPaths() []string {
	return c.abs(c.Weave.Search)
}

// JournalPath returns the absolute journal path, or "" when disabled.
func (c *Config) JournalPath() string {
	if c.Weave.Journal == "" {
		return ""
	}
	return c.join(c.Weave.Journal)
}

// BackupRoot returns the absolute backup root, or "" for the default.
func (c *Config) BackupRoot() string {
	if c.Weave.BackupRoot == "" {
		return ""
	}
	return c.join(c.Weave.BackupRoot)
}

func (c *Config) abs(dirs []string) []string {
	var paths []string
	for _, d := range dirs {
		paths = append(paths, c.join(d))
	}
	return paths
}

func (c *Config) join(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}
