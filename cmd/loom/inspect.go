package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chazu/loom/discovery"
	"github.com/chazu/loom/interp"
	"github.com/chazu/loom/ir"
	"github.com/chazu/loom/journal"
	"github.com/chazu/loom/resolver"
	"github.com/spf13/cobra"
)

func newScanCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [dirs...]",
		Short: "Show how each module file under the given directories is classified",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.loadConfig()
			if err != nil {
				return err
			}
			res, err := discovery.Scan(dirs(c, args)...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.All() {
				line := fmt.Sprintf("%-7s %s", f.Kind, f.Path)
				if f.Symbols != "" {
					line += " (symbols " + filepath.Base(f.Symbols) + ")"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newDumpCmd() *cobra.Command {
	var symbols bool
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Disassemble a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ir.ReadFile(args[0], ir.ReadOptions{Symbols: symbols, SymbolPath: discovery.SymbolsFor(args[0])})
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ir.Dump(m))
			return nil
		},
	}
	cmd.Flags().BoolVar(&symbols, "symbols", false, "Load the debug symbol side-file")
	return cmd
}

func newRunCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "run <file> <Namespace.Type::Method> [args...]",
		Short: "Evaluate a static method",
		Long: "Evaluate a static method of a module. Arguments that parse as integers are " +
			"passed as integers, everything else as strings.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := ir.ReadFile(args[0], ir.ReadOptions{})
			if err != nil {
				return err
			}
			method, err := findMethod(m, args[1])
			if err != nil {
				return err
			}

			r := resolver.New([]string{filepath.Dir(args[0])}, ir.ReadOptions{})
			defer r.Close()
			r.AddRead(m)

			out := cmd.OutOrStdout()
			it := interp.New(interp.WithOutput(out), interp.WithResolver(r), interp.WithStepLimit(steps))
			result, err := it.Run(method, parseArgs(args[2:])...)
			if err != nil {
				return err
			}
			if result != nil {
				fmt.Fprintf(out, "=> %s\n", interp.Format(result))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", interp.DefaultStepLimit, "Maximum number of instructions to execute")
	return cmd
}

// findMethod looks up "Ns.Type::Method".
func findMethod(m *ir.Module, sig string) (*ir.MethodDef, error) {
	typeName, methodName, ok := strings.Cut(sig, "::")
	if !ok {
		return nil, fmt.Errorf("%q: want Namespace.Type::Method", sig)
	}
	t := m.TypeByFullName(typeName)
	if t == nil {
		return nil, fmt.Errorf("%w: %s in %s", ir.ErrTypeNotFound, typeName, m.Name)
	}
	md := t.Method(methodName)
	if md == nil {
		return nil, fmt.Errorf("%w: %s::%s", ir.ErrMemberNotFound, typeName, methodName)
	}
	if !md.IsStatic() {
		return nil, errors.New(md.FullName() + " is not static")
	}
	return md, nil
}

func parseArgs(args []string) []interp.Value {
	out := make([]interp.Value, len(args))
	for i, a := range args {
		if n, err := strconv.ParseInt(a, 10, 64); err == nil {
			out[i] = n
		} else {
			out[i] = a
		}
	}
	return out
}

func newWeaversCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weavers",
		Short: "List the built-in transformation units",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry()
			if err != nil {
				return err
			}
			for _, name := range reg.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newHistoryCmd(g *globals) *cobra.Command {
	var limit int
	var journalPath string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled runs and the files they wrote",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := absOrEmpty(journalPath)
			if path == "" {
				c, err := g.loadConfig()
				if err != nil {
					return err
				}
				path = c.JournalPath()
			}
			if path == "" {
				return errors.New("no journal configured (set weave.journal or --journal)")
			}
			j, err := journal.Open(path)
			if err != nil {
				return err
			}
			defer j.Close()

			runs, err := j.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				fmt.Fprintf(out, "%s %-7s %-7s %s", r.Started.Local().Format("2006-01-02 15:04:05"), r.Mode, r.Status, r.ID)
				if r.Error != "" {
					fmt.Fprintf(out, " %s", r.Error)
				}
				fmt.Fprintln(out)
				writes, err := j.Writes(cmd.Context(), r.ID)
				if err != nil {
					return err
				}
				for _, w := range writes {
					fmt.Fprintf(out, "  %s %s\n", shortDigest(w.SHAAfter), w.Path)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal path")
	return cmd
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
