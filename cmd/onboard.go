package cmd

import (
	"fmt"
	"os"
	"regexp"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive first-run setup: config file and first agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnboard()
	},
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

var onboardIDRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

func runOnboard() error {
	home, err := config.ResolveHome()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(home.Dir(), 0700); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	cfg, err := config.Load(home.ConfigPath())
	if err != nil {
		return err
	}

	var (
		agentID    = "main"
		agentName  = "Main"
		preset     = string(config.PresetCoding)
		cliCommand = cfg.CLISnapshot().Command
		confirm    = true
	)

	presetOptions := make([]huh.Option[string], 0, len(config.ValidPresets))
	for _, p := range config.ValidPresets {
		if p == config.PresetCustom {
			// custom needs a hand-written tool list, not a wizard default
			continue
		}
		presetOptions = append(presetOptions, huh.NewOption(string(p), string(p)))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent id").
				Description("lowercase letters, digits, - and _").
				Value(&agentID).
				Validate(func(s string) error {
					if !onboardIDRe.MatchString(s) {
						return fmt.Errorf("must match [a-z0-9_-]+")
					}
					return nil
				}),
			huh.NewInput().
				Title("Agent name").
				Value(&agentName),
			huh.NewSelect[string]().
				Title("Tool preset").
				Options(presetOptions...).
				Value(&preset),
			huh.NewInput().
				Title("claude CLI command").
				Description("binary name or path of the external CLI").
				Value(&cliCommand),
			huh.NewConfirm().
				Title("Write config and register the agent?").
				Value(&confirm),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}
	if !confirm {
		fmt.Println("aborted, nothing written")
		return nil
	}

	cfg.CLI.Command = cliCommand
	if cfg.Routing.DefaultAgent == "" {
		cfg.Routing.DefaultAgent = agentID
	}

	registry := agents.NewRegistry(home, cfg, func() error {
		return config.Save(home.ConfigPath(), cfg)
	}, nil)
	if _, err := registry.Register(agentID, config.AgentConfig{
		Name:   agentName,
		Preset: config.ToolPreset(preset),
	}); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n", home.ConfigPath())
	fmt.Printf("agent %q registered under %s\n", agentID, home.AgentDir(agentID))
	fmt.Println("edit the SOUL.md there, then start the host with `clade`")
	return nil
}
