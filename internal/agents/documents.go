package agents

import (
	"fmt"
	"os"
	"path/filepath"
)

// Document IO. Reads of a missing document return "" so callers can treat
// "no soul yet" as an empty section. Writes are atomic (temp + rename).

func (r *Registry) ReadSoul(id string) (string, error) {
	return readDoc(r.home.SoulPath(id))
}

func (r *Registry) WriteSoul(id, content string) error {
	return writeDoc(r.home.SoulPath(id), content)
}

func (r *Registry) ReadHeartbeat(id string) (string, error) {
	return readDoc(r.home.HeartbeatPath(id))
}

func (r *Registry) WriteHeartbeat(id, content string) error {
	return writeDoc(r.home.HeartbeatPath(id), content)
}

func (r *Registry) ReadToolsNotes(id string) (string, error) {
	return readDoc(r.home.ToolsNotesPath(id))
}

func (r *Registry) WriteToolsNotes(id, content string) error {
	return writeDoc(r.home.ToolsNotesPath(id), content)
}

func readDoc(path string) (string, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func writeDoc(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
