package cli

import (
	"os"
	"strconv"
	"strings"
)

// Options describes one CLI invocation. Zero values mean "not set".
type Options struct {
	Prompt           string
	ResumeSessionID  string
	SystemPrompt     string // inline text, used when no file or as fallback
	SystemPromptFile string
	MCPConfigPath    string
	AllowedTools     []string
	MaxTurns         int
	Model            string
}

// BuildArgs turns an option bundle into an argument vector, gated on the
// probed capabilities. Flags the CLI does not advertise are omitted.
func BuildArgs(opts Options, caps *Capabilities) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if opts.Model != "" && caps.Model {
		args = append(args, "--model", opts.Model)
	}
	if opts.MaxTurns > 0 && caps.MaxTurns {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.ResumeSessionID != "" && caps.Resume {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	args = appendSystemPrompt(args, opts, caps)
	if opts.MCPConfigPath != "" && caps.MCPConfig {
		args = append(args, "--mcp-config", opts.MCPConfigPath)
	}
	if len(opts.AllowedTools) > 0 && caps.AllowedTools {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}

	args = append(args, opts.Prompt)
	return args
}

// appendSystemPrompt prefers the file flag, then falls back to reading
// the file and passing its contents inline, then to the caller-supplied
// inline value.
func appendSystemPrompt(args []string, opts Options, caps *Capabilities) []string {
	if opts.SystemPromptFile != "" {
		if caps.SystemPromptFile {
			return append(args, "--append-system-prompt-file", opts.SystemPromptFile)
		}
		if caps.SystemPrompt {
			if b, err := os.ReadFile(opts.SystemPromptFile); err == nil {
				return append(args, "--append-system-prompt", string(b))
			}
			if opts.SystemPrompt != "" {
				return append(args, "--append-system-prompt", opts.SystemPrompt)
			}
		}
		return args
	}
	if opts.SystemPrompt != "" && caps.SystemPrompt {
		return append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	return args
}
