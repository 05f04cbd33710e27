package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const probeTimeout = 10 * time.Second

// Capabilities describes what the installed CLI supports, derived from
// its --version and --help output.
type Capabilities struct {
	Version string

	StreamJSON       bool // --output-format stream-json
	Resume           bool // --resume
	SystemPrompt     bool // --append-system-prompt
	SystemPromptFile bool // --append-system-prompt-file
	AllowedTools     bool // --allowedTools
	MCPConfig        bool // --mcp-config
	MaxTurns         bool // --max-turns
	Model            bool // --model
	Agents           bool // --agents (inline subagent definitions)
	LazyTools        bool // --mcp-lazy-tools
	PluginExport     bool // --plugin-export
}

var (
	probeMu    sync.Mutex
	probeCache = map[string]*Capabilities{}
)

// ResetProbeCache clears cached probe results. Test hook.
func ResetProbeCache() {
	probeMu.Lock()
	probeCache = map[string]*Capabilities{}
	probeMu.Unlock()
}

// Probe inspects the CLI named by command once per process; later calls
// return the cached record. It fails with IncompatibleError when the
// version is below 1.0.0 or a critical capability is absent.
func Probe(ctx context.Context, command string) (*Capabilities, error) {
	probeMu.Lock()
	defer probeMu.Unlock()
	if caps, ok := probeCache[command]; ok {
		return caps, nil
	}

	verOut, err := runProbe(ctx, command, "--version")
	if err != nil {
		return nil, fmt.Errorf("probe %s --version: %w", command, err)
	}
	version, ok := parseVersion(verOut)
	if !ok {
		return nil, fmt.Errorf("probe %s: no version in %q", command, strings.TrimSpace(verOut))
	}

	helpOut, err := runProbe(ctx, command, "--help")
	if err != nil {
		return nil, fmt.Errorf("probe %s --help: %w", command, err)
	}

	caps := capsFromHelp(version, helpOut)
	if err := caps.check(); err != nil {
		return nil, err
	}
	for _, w := range caps.warnings() {
		slog.Warn("cli capability missing", "command", command, "capability", w)
	}

	probeCache[command] = caps
	return caps, nil
}

func runProbe(ctx context.Context, command string, arg string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, command, arg).CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// capsFromHelp maps advertised flags to the capability record. Help text
// is matched on flag names only; descriptions vary across versions.
func capsFromHelp(version, help string) *Capabilities {
	has := func(flag string) bool { return strings.Contains(help, flag) }
	return &Capabilities{
		Version:          version,
		StreamJSON:       has("--output-format") && strings.Contains(help, "stream-json"),
		Resume:           has("--resume"),
		SystemPrompt:     has("--append-system-prompt"),
		SystemPromptFile: has("--append-system-prompt-file"),
		AllowedTools:     has("--allowedTools") || has("--allowed-tools"),
		MCPConfig:        has("--mcp-config"),
		MaxTurns:         has("--max-turns"),
		Model:            has("--model"),
		Agents:           has("--agents"),
		LazyTools:        has("--mcp-lazy-tools"),
		PluginExport:     has("--plugin-export"),
	}
}

// check enforces the minimum version and the critical capability set.
func (c *Capabilities) check() error {
	major, _, _, ok := splitVersion(c.Version)
	if !ok || major < 1 {
		return &IncompatibleError{Version: c.Version}
	}
	var missing []string
	if !c.StreamJSON {
		missing = append(missing, "stream-json output")
	}
	if !c.Resume {
		missing = append(missing, "session resume")
	}
	if !c.SystemPrompt && !c.SystemPromptFile {
		missing = append(missing, "system prompt injection")
	}
	if len(missing) > 0 {
		return &IncompatibleError{Version: c.Version, Missing: missing}
	}
	return nil
}

// warnings lists absent optional capabilities.
func (c *Capabilities) warnings() []string {
	var out []string
	if !c.AllowedTools {
		out = append(out, "allowed-tools list")
	}
	if !c.MCPConfig {
		out = append(out, "tool-server config")
	}
	if !c.MaxTurns {
		out = append(out, "max-turns")
	}
	if !c.Model {
		out = append(out, "model selection")
	}
	return out
}

var versionRe = regexp.MustCompile(`v?(\d+)\.(\d+)\.(\d+)(?:-[0-9A-Za-z.-]+)?`)

// parseVersion extracts the first semver triple from CLI output such as
// "claude 2.1.3 (Claude Code)" or "v1.0.0-beta.2".
func parseVersion(out string) (string, bool) {
	m := versionRe.FindStringSubmatch(out)
	if m == nil {
		return "", false
	}
	return m[1] + "." + m[2] + "." + m[3], true
}

func splitVersion(v string) (major, minor, patch int, ok bool) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	var err error
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if patch, err = strconv.Atoi(parts[2]); err != nil {
		return 0, 0, 0, false
	}
	return major, minor, patch, true
}
