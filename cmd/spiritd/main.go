// Command spiritd runs the machine-spirit agent daemon: a model-driven
// conversation loop backed by a three-tier permissioned memory manager, a
// recursive-summarization compactor, a sandboxed code executor, and a
// bounded external-event dispatcher.
//
// Start it against a configuration file:
//
//	spiritd run --config spiritd.yaml
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "spiritd",
		Short: "Machine-spirit agent daemon",
		Long:  "spiritd runs a model-driven agent loop with permissioned memory, recursive compaction, sandboxed tool execution, and a bounded external-event dispatcher.",
	}
	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newInspectCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "spiritd %s (%s)\n", version, commit)
			return nil
		},
	}
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
