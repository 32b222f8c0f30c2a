// Command tmplc compiles templates and inspects the trees produced by each
// compiler pass.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	s := defaultSettings()
	root := &cobra.Command{
		Use:           "tmplc",
		Short:         "Template compiler front end and optimizer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&s.configPath, "config", s.configPath, "Path to a YAML compiler configuration (env TMPLC_CONFIG)")
	pf.IntVarP(&s.level, "optimizer-level", "O", s.level, "Optimizer level 0-3 (env TMPLC_OPT_LEVEL)")
	pf.StringArrayVarP(&s.flags, "flag", "X", nil, "Toggle an option, e.g. -X alias-invariants or -X no-batch-buffer-writes")
	pf.StringVar(&s.registryPath, "function-registry", "", "Function registry file (.yaml or line format)")
	pf.StringArrayVar(&s.macros, "macro", nil, "Register a Starlark macro as name=script.star")
	pf.StringVar(&s.includePath, "include-path", "", "Directory searched for extended templates")
	pf.BoolVarP(&s.debug, "verbose", "v", s.debug, "Enable debug logging (env TMPLC_DEBUG)")

	root.AddCommand(newCompileCmd(&s), newDiffCmd(&s), newOptionsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
