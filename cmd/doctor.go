package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the external CLI and the local installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd)
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command) error {
	ctx := cmd.Context()
	ok := true

	home, err := config.ResolveHome()
	if err != nil {
		return err
	}
	fmt.Printf("home           %s\n", home.Dir())

	cfg, err := config.Load(home.ConfigPath())
	if err != nil {
		fmt.Printf("config         BROKEN: %v\n", err)
		return err
	}
	if _, statErr := os.Stat(home.ConfigPath()); statErr == nil {
		fmt.Printf("config         ok (%s)\n", home.ConfigPath())
	} else {
		fmt.Println("config         not written yet, using defaults (run `clade onboard`)")
	}

	agentIDs := cfg.AgentIDs()
	if len(agentIDs) == 0 {
		fmt.Println("agents         none configured (run `clade onboard`)")
		ok = false
	} else {
		fmt.Printf("agents         %d configured %v\n", len(agentIDs), agentIDs)
	}

	if st, err := store.Open(home.StorePath()); err != nil {
		fmt.Printf("store          BROKEN: %v\n", err)
		ok = false
	} else {
		st.Close()
		fmt.Printf("store          ok (%s)\n", home.StorePath())
	}

	command := cfg.CLISnapshot().Command
	caps, err := cli.Probe(ctx, command)
	if err != nil {
		var incompat *cli.IncompatibleError
		if errors.As(err, &incompat) {
			fmt.Printf("cli            INCOMPATIBLE: %v\n", incompat)
			os.Exit(2)
		}
		fmt.Printf("cli            BROKEN: %v\n", err)
		ok = false
	} else {
		fmt.Printf("cli            %s %s\n", command, caps.Version)
		// Optional capabilities degrade features, they do not fail doctor.
		capLine := func(name string, have bool) {
			state := "ok"
			if !have {
				state = "missing"
			}
			fmt.Printf("  %-22s %s\n", name, state)
		}
		capLine("stream-json", caps.StreamJSON)
		capLine("resume", caps.Resume)
		capLine("system prompt", caps.SystemPrompt || caps.SystemPromptFile)
		capLine("allowed tools", caps.AllowedTools)
		capLine("mcp config", caps.MCPConfig)
		capLine("max turns", caps.MaxTurns)
		capLine("model selection", caps.Model)
	}

	if !ok {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("all good")
	return nil
}
