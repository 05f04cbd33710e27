package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cladehq/clade/internal/config"
)

//go:embed templates/*.md
var templateFS embed.FS

// Agent workspace files seeded on first run.
const (
	SoulFile      = "SOUL.md"
	MemoryFile    = "MEMORY.md"
	HeartbeatFile = "HEARTBEAT.md"
	ToolsFile     = "TOOLS.md"
)

// templateFiles lists the templates to seed, in order.
var templateFiles = []string{
	SoulFile,
	MemoryFile,
	HeartbeatFile,
	ToolsFile,
}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureAgentFiles seeds the workspace for one agent: its base directory,
// the template documents, and the memory and history subdirectories.
// Existing files are never overwritten. Returns the files created.
func EnsureAgentFiles(home config.Home, agentID string) ([]string, error) {
	baseDir := home.AgentDir(agentID)
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	for _, sub := range []string{home.MemoryDir(agentID), home.SoulHistoryDir(agentID), home.ToolsHistoryDir(agentID)} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			return nil, err
		}
	}

	var created []string
	for _, name := range templateFiles {
		ok, err := seedTemplate(baseDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "agent", agentID, "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// seedTemplate writes a template file into dir if it doesn't exist.
// Returns true if the file was created, false if it already exists.
func seedTemplate(dir, name string) (bool, error) {
	dstPath := filepath.Join(dir, name)

	// O_EXCL: never clobber a file the agent has already rewritten.
	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath) // clean up empty file
		return false, err
	}

	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
