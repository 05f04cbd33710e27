package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cladehq/clade/internal/mcpserver"
)

// toolServerCmd is what a spawned CLI's tool manifest points at. It is
// not part of the operator surface, hence hidden.
var toolServerCmd = &cobra.Command{
	Use:    "tool-server <name>",
	Short:  "Run a built-in tool server over stdio",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := mcpserver.Serve(args[0], Version); err != nil {
			return fmt.Errorf("tool server %s: %w", args[0], err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(toolServerCmd)
}
