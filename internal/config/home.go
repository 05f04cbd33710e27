package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Home resolves every path under the clade home directory.
//
//	config.json
//	agents/<id>/SOUL.md …
//	skills/{active,pending,disabled}/<name>/SKILL.md
//	data/clade.db
//	ipc-<pid>.sock
type Home struct {
	dir string
}

// ResolveHome returns the clade home directory, honouring CLADE_HOME.
func ResolveHome() (Home, error) {
	if v := os.Getenv("CLADE_HOME"); v != "" {
		return Home{dir: ExpandHome(v)}, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return Home{}, fmt.Errorf("resolve home dir: %w", err)
	}
	return Home{dir: filepath.Join(userHome, ".clade")}, nil
}

// HomeAt returns a Home rooted at an explicit directory. Used by tests.
func HomeAt(dir string) Home { return Home{dir: dir} }

func (h Home) Dir() string        { return h.dir }
func (h Home) ConfigPath() string { return filepath.Join(h.dir, "config.json") }
func (h Home) DataDir() string    { return filepath.Join(h.dir, "data") }
func (h Home) StorePath() string  { return filepath.Join(h.dir, "data", "clade.db") }

// AgentDir returns the identity document directory for one agent.
func (h Home) AgentDir(agentID string) string {
	return filepath.Join(h.dir, "agents", agentID)
}

func (h Home) SoulPath(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "SOUL.md")
}

func (h Home) HeartbeatPath(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "HEARTBEAT.md")
}

func (h Home) MemoryPath(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "MEMORY.md")
}

func (h Home) ToolsNotesPath(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "TOOLS.md")
}

// MemoryDir holds the daily activity logs (YYYY-MM-DD.md).
func (h Home) MemoryDir(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "memory")
}

// SoulHistoryDir holds pre-reflection soul snapshots.
func (h Home) SoulHistoryDir(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "soul-history")
}

func (h Home) ToolsHistoryDir(agentID string) string {
	return filepath.Join(h.AgentDir(agentID), "tools-history")
}

// SkillStatusDir returns a status bucket (active, pending or disabled)
// of the skills tree.
func (h Home) SkillStatusDir(status string) string {
	return filepath.Join(h.dir, "skills", status)
}

// SkillDir returns the directory of a skill in the given status bucket.
func (h Home) SkillDir(status, name string) string {
	return filepath.Join(h.SkillStatusDir(status), name)
}

// SocketPath returns the IPC socket path for this process.
func (h Home) SocketPath() string {
	return filepath.Join(h.dir, fmt.Sprintf("ipc-%d.sock", os.Getpid()))
}
