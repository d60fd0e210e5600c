// Command loom weaves transformation units into compiled modules.
//
//	loom weave [dirs...]     weave every marked module under dirs
//	loom restore [dirs...]   put back the pre-weave copies
//	loom scan [dirs...]      show how each module file is classified
//	loom dump <file>         disassemble a module
//	loom run <file> <T::M>   evaluate a static method
//	loom weavers             list the built-in units
//	loom history             show journaled runs
package main

import (
	"fmt"
	"os"

	"github.com/chazu/loom/config"
	"github.com/chazu/loom/weaver"
	"github.com/chazu/loom/weavers/entrytrace"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("loom")

// globals holds the persistent flags.
type globals struct {
	verbosity  int
	configPath string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "loom",
		Short:         "Post-build weaving of compiled modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(g.verbosity, nil)
		},
	}
	root.PersistentFlags().CountVarP(&g.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "Path to loom.toml (default: search upward from the working directory)")

	root.AddCommand(
		newWeaveCmd(g),
		newRestoreCmd(g),
		newScanCmd(g),
		newDumpCmd(),
		newRunCmd(),
		newWeaversCmd(),
		newHistoryCmd(g),
	)
	return root
}

// loadConfig reads --config, or the nearest loom.toml, or falls back to the
// defaults rooted at the working directory.
func (g *globals) loadConfig() (*config.Config, error) {
	if g.configPath != "" {
		return config.LoadFile(g.configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	c, err := config.FindAndLoad(wd)
	if err != nil {
		return nil, err
	}
	if c == nil {
		log.Debugf("no %s found, using defaults", config.FileName)
		c = config.Default(wd)
	}
	return c, nil
}

// registry returns every built-in unit.
func registry() (*weaver.Registry, error) {
	r := weaver.NewRegistry()
	if err := entrytrace.Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
