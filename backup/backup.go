// Package backup keeps pristine copies of modules before they are woven and
// puts them back on request.
//
// Every file is copied twice: a sibling <path>.orig next to the original and
// a flattened copy under a backup root, named after the full path with
// separators, spaces and colons replaced by underscores. Restore prefers the
// sibling and falls back to the flattened copy.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/chazu/loom/ir"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("loom.backup")

// ErrBackupMissing is returned when neither backup copy of a file exists.
var ErrBackupMissing = errors.New("no backup found")

// Suffix is appended to every backup copy.
const Suffix = ".orig"

// DefaultRoot returns ~/.loom/backups.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("backup root: %w", err)
	}
	return filepath.Join(home, ".loom", "backups"), nil
}

// SiblingPath returns the backup that sits next to path.
func SiblingPath(path string) string {
	return path + Suffix
}

var flatten = strings.NewReplacer("/", "_", `\`, "_", " ", "_", ":", "_")

// Item is a module file and its optional debug symbol side-file.
type Item struct {
	Path    string
	Symbols string
}

// Store writes and reads backups. A Store with an empty Root only keeps
// sibling copies.
type Store struct {
	Root string
}

// New returns a store rooted at root, or at DefaultRoot when root is empty.
// If the home directory is unknown the store keeps sibling copies only.
func New(root string) *Store {
	if root == "" {
		var err error
		if root, err = DefaultRoot(); err != nil {
			log.Warningf("%v; keeping sibling backups only", err)
		}
	}
	return &Store{Root: root}
}

// FlatPath returns the flattened backup location of path, or "" when the
// store has no root.
func (s *Store) FlatPath(path string) string {
	if s.Root == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Join(s.Root, flatten.Replace(path)+Suffix)
}

// ---------------------------------------------------------------------------
// Single files
// ---------------------------------------------------------------------------

// Save copies the module and its symbols to both backup locations.
func (s *Store) Save(it Item) error {
	if err := s.save(it.Path); err != nil {
		return err
	}
	if it.Symbols == "" {
		return nil
	}
	return s.save(it.Symbols)
}

func (s *Store) save(path string) error {
	if err := copyFile(path, SiblingPath(path)); err != nil {
		return err
	}
	if flat := s.FlatPath(path); flat != "" {
		if err := copyFile(path, flat); err != nil {
			return err
		}
	}
	log.Debugf("backed up %s", path)
	return nil
}

// Find returns the backup Restore would use for path.
func (s *Store) Find(path string) (string, error) {
	if sib := SiblingPath(path); exists(sib) {
		return sib, nil
	}
	if flat := s.FlatPath(path); flat != "" && exists(flat) {
		return flat, nil
	}
	return "", fmt.Errorf("%w: %s", ErrBackupMissing, path)
}

// Restore copies the backup of the module over it. A symbol side-file with
// no backup is left alone.
func (s *Store) Restore(it Item) error {
	src, err := s.Find(it.Path)
	if err != nil {
		return err
	}
	if err := copyFile(src, it.Path); err != nil {
		return err
	}
	log.Infof("restored %s from %s", it.Path, src)
	if it.Symbols == "" {
		return nil
	}
	src, err = s.Find(it.Symbols)
	if errors.Is(err, ErrBackupMissing) {
		log.Noticef("no symbol backup for %s, leaving it as is", it.Symbols)
		return nil
	}
	if err != nil {
		return err
	}
	return copyFile(src, it.Symbols)
}

// ---------------------------------------------------------------------------
// Batches
// ---------------------------------------------------------------------------

// SaveAll backs up every item in parallel and returns the first error.
func (s *Store) SaveAll(ctx context.Context, items []Item) error {
	return each(ctx, items, s.Save)
}

// RestoreAll restores every item in parallel and returns the first error.
func (s *Store) RestoreAll(ctx context.Context, items []Item) error {
	return each(ctx, items, s.Restore)
}

func each(ctx context.Context, items []Item, fn func(Item) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, it := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(it)
		})
	}
	return g.Wait()
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := ir.WriteAtomic(dst, data); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
