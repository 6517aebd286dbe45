// Command kiln is the chat CLI front end (spec.md §6's REPL, out of the
// core's scope but specified for completeness and implemented here so the
// module is runnable end-to-end). Grounded in the teacher's cmd.NewCLI
// (cmd/cmd.go) root-command shape and console.ConsoleFromFile raw-mode
// detection.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"

	"github.com/kilnrun/kiln/logutil"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logutil.Trace("kiln: fatal", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	root := &cobra.Command{
		Use:           "kiln",
		Short:         "Multi-session inference REPL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var modelDir string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the chat REPL against a model directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runREPL(modelDir)
		},
	}
	runCmd.Flags().StringVar(&modelDir, "model", "", "model directory (selects chat template by name)")
	root.AddCommand(runCmd)

	if len(os.Args) == 1 {
		fmt.Fprintln(os.Stderr, root.UsageString())
	}
	return root
}
