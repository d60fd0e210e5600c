package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/chazu/loom/backup"
	"github.com/chazu/loom/config"
	"github.com/chazu/loom/journal"
	"github.com/chazu/loom/weaver"
	"github.com/spf13/cobra"
)

// weaveFlags override loom.toml values when set on the command line.
type weaveFlags struct {
	search     []string
	weavers    []string
	noBackup   bool
	noSymbols  bool
	reweave    bool
	backupRoot string
	journal    string
}

func (f *weaveFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.search, "search", nil, "Extra directories searched for referenced modules")
	cmd.Flags().StringSliceVarP(&f.weavers, "weaver", "w", nil, "Registered unit to run (repeatable)")
	cmd.Flags().BoolVar(&f.noBackup, "no-backup", false, "Do not back up modules before weaving")
	cmd.Flags().BoolVar(&f.noSymbols, "no-symbols", false, "Ignore debug symbol side-files")
	cmd.Flags().BoolVar(&f.reweave, "reweave", false, "Restore woven modules and weave them again")
	cmd.Flags().StringVar(&f.backupRoot, "backup-root", "", "Directory for flattened backups (default ~/.loom/backups)")
	cmd.Flags().StringVar(&f.journal, "journal", "", "SQLite journal path")
}

// apply folds the flags that were set into c.
func (f *weaveFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("search") {
		c.Weave.Search = append(c.Weave.Search, f.search...)
	}
	if flags.Changed("weaver") {
		c.Weave.Weavers = f.weavers
	}
	if flags.Changed("no-backup") {
		c.Weave.Backup = !f.noBackup
	}
	if flags.Changed("no-symbols") {
		c.Weave.DebugSymbols = !f.noSymbols
	}
	if flags.Changed("reweave") {
		c.Weave.Reweave = f.reweave
	}
	if flags.Changed("backup-root") {
		c.Weave.BackupRoot = absOrEmpty(f.backupRoot)
	}
	if flags.Changed("journal") {
		c.Weave.Journal = absOrEmpty(f.journal)
	}
}

func absOrEmpty(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// engine builds an Engine from c. The returned func closes the journal.
func engine(c *config.Config) (*weaver.Engine, func(), error) {
	reg, err := registry()
	if err != nil {
		return nil, nil, err
	}
	opts := weaver.Options{
		Search:       c.SearchPaths(),
		Weavers:      c.Weave.Weavers,
		Backup:       c.Weave.Backup,
		DebugSymbols: c.Weave.DebugSymbols,
		Reweave:      c.Weave.Reweave,
		Store:        backup.New(c.BackupRoot()),
		Log:          log,
	}
	closer := func() {}
	if path := c.JournalPath(); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			return nil, nil, err
		}
		opts.Journal = j
		closer = func() {
			if err := j.Close(); err != nil {
				log.Warningf("closing journal: %v", err)
			}
		}
	}
	return weaver.NewEngine(reg, opts), closer, nil
}

// dirs returns the command-line directories, or the configured ones.
func dirs(c *config.Config, args []string) []string {
	if len(args) > 0 {
		return args
	}
	return c.DirPaths()
}

func printReport(w io.Writer, verb string, rep *weaver.Report) {
	for _, p := range rep.Woven {
		fmt.Fprintf(w, "%s %s\n", verb, p)
	}
	for _, p := range rep.Skipped {
		fmt.Fprintf(w, "skipped %s (already woven)\n", p)
	}
	for _, p := range rep.Dropped {
		fmt.Fprintf(w, "dropped %s (unreadable)\n", p)
	}
}

func newWeaveCmd(g *globals) *cobra.Command {
	f := &weaveFlags{}
	cmd := &cobra.Command{
		Use:   "weave [dirs...]",
		Short: "Weave every marked module under the given directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadConfig()
			if err != nil {
				return err
			}
			f.apply(cmd, c)
			e, closeJournal, err := engine(c)
			if err != nil {
				return err
			}
			defer closeJournal()

			rep, err := e.Weave(cmd.Context(), dirs(c, args)...)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), "woven", rep)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRestoreCmd(g *globals) *cobra.Command {
	var backupRoot, journalPath string
	cmd := &cobra.Command{
		Use:   "restore [dirs...]",
		Short: "Restore woven modules from their backups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("backup-root") {
				c.Weave.BackupRoot = absOrEmpty(backupRoot)
			}
			if cmd.Flags().Changed("journal") {
				c.Weave.Journal = absOrEmpty(journalPath)
			}
			e, closeJournal, err := engine(c)
			if err != nil {
				return err
			}
			defer closeJournal()

			rep, err := e.Restore(cmd.Context(), dirs(c, args)...)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), "restored", rep)
			return nil
		},
	}
	cmd.Flags().StringVar(&backupRoot, "backup-root", "", "Directory for flattened backups (default ~/.loom/backups)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal path")
	return cmd
}
