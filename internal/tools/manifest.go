package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
)

// ServerEntry is one tool server in the manifest handed to the CLI.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Manifest is the tool-server config file format the CLI consumes.
type Manifest struct {
	Servers map[string]ServerEntry `json:"mcpServers"`
}

// Builder resolves manifests. selfExe is this host's binary; built-in
// servers run as `<selfExe> tool-server <name>` talking back over IPC.
type Builder struct {
	home       config.Home
	socketPath string
	selfExe    string
	sessionID  string
	log        *slog.Logger
}

// NewBuilder constructs a manifest builder. socketPath is the host's IPC
// socket handed to every child server.
func NewBuilder(home config.Home, socketPath, selfExe string, log *slog.Logger) *Builder {
	if log == nil {
		log = slog.Default()
	}
	return &Builder{home: home, socketPath: socketPath, selfExe: selfExe, log: log}
}

// WithSession returns a builder whose child servers also see the
// session id. Used on resumed turns, where the id is known up front.
func (b *Builder) WithSession(sessionID string) *Builder {
	clone := *b
	clone.sessionID = sessionID
	return &clone
}

// Resolve produces the manifest for one invocation by the given agent.
// skills is the agent's assigned skills as loaded from the store; entries
// that are not active or that shadow a built-in are dropped.
func (b *Builder) Resolve(agent agents.Agent, browser config.BrowserConfig, skills []store.Skill) Manifest {
	m := Manifest{Servers: map[string]ServerEntry{}}

	for _, name := range PresetServers(agent.Config.Preset) {
		m.Servers[name] = b.builtinEntry(name, agent.ID)
	}
	if agent.Config.Admin.Enabled {
		m.Servers[ServerAdmin] = b.builtinEntry(ServerAdmin, agent.ID)
	}

	for _, sk := range skills {
		if sk.Status != store.SkillActive {
			continue
		}
		if IsBuiltin(sk.Name) {
			b.log.Debug("skill shadows a built-in server, dropped", "agent", agent.ID, "skill", sk.Name)
			continue
		}
		entry, err := b.skillEntry(sk, agent.ID)
		if err != nil {
			b.log.Warn("skill config unusable, dropped", "agent", agent.ID, "skill", sk.Name, "error", err)
			continue
		}
		m.Servers[sk.Name] = entry
	}

	if browser.Enabled {
		m.Servers[ServerBrowser] = b.builtinEntry(ServerBrowser, agent.ID)
	}
	return m
}

func (b *Builder) builtinEntry(name, agentID string) ServerEntry {
	return ServerEntry{
		Command: b.selfExe,
		Args:    []string{"tool-server", name},
		Env:     b.childEnv(agentID),
	}
}

// skillEntry builds a server entry for a user skill. A skill may carry a
// full server entry in its config; otherwise its path is executed
// directly.
func (b *Builder) skillEntry(sk store.Skill, agentID string) (ServerEntry, error) {
	entry := ServerEntry{Command: sk.Path}
	if sk.Config != "" {
		if err := json.Unmarshal([]byte(sk.Config), &entry); err != nil {
			return ServerEntry{}, fmt.Errorf("parse skill config: %w", err)
		}
		if entry.Command == "" {
			return ServerEntry{}, fmt.Errorf("skill config has no command")
		}
	}
	env := b.childEnv(agentID)
	for k, v := range entry.Env {
		env[k] = v
	}
	entry.Env = env
	return entry, nil
}

func (b *Builder) childEnv(agentID string) map[string]string {
	env := map[string]string{
		"CLADE_AGENT_ID":   agentID,
		"CLADE_HOME":       b.home.Dir(),
		"CLADE_IPC_SOCKET": b.socketPath,
	}
	if b.sessionID != "" {
		env["CLADE_SESSION_ID"] = b.sessionID
	}
	return env
}

// AllowedTools derives the allowed-tool list for the CLI: one mcp__<name>
// entry per manifest server, plus the agent's custom tool list verbatim.
func AllowedTools(agent agents.Agent, m Manifest) []string {
	out := make([]string, 0, len(m.Servers)+len(agent.Config.CustomTools))
	for name := range m.Servers {
		out = append(out, "mcp__"+name)
	}
	sort.Strings(out)
	out = append(out, agent.Config.CustomTools...)
	return out
}

// WriteManifest serializes the manifest to a private temp file. The
// returned cleanup removes it best-effort after the invocation.
func WriteManifest(m Manifest) (path string, cleanup func(), err error) {
	f, err := os.CreateTemp("", "clade-mcp-*.json")
	if err != nil {
		return "", nil, fmt.Errorf("manifest temp file: %w", err)
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("manifest perms: %w", err)
	}
	if err := json.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("close manifest: %w", err)
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}
