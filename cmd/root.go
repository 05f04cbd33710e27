// Package cmd wires the clade command tree.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "clade",
	Short: "clade is a multi-agent host for the claude CLI",
	Long: `clade hosts a set of long-lived agents on top of the claude CLI:
per-agent identity files, serialized sessions, scheduled work, and an
IPC surface the spawned CLI's tool servers call back into.

Running clade with no subcommand starts the host.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clade version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clade %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the command tree. Fatal init errors exit 1; an
// incompatible external CLI exits 2 from inside runServe.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
