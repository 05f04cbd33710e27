package agents

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cladehq/clade/internal/bootstrap"
	"github.com/cladehq/clade/internal/config"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	home := config.HomeAt(t.TempDir())
	cfg := config.Default()
	return NewRegistry(home, cfg, nil, nil)
}

func TestValidateAgentConfig(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		cfg     config.AgentConfig
		wantErr bool
	}{
		{name: "minimal", id: "main", cfg: config.AgentConfig{Name: "Main"}},
		{name: "uppercase id", id: "Main", cfg: config.AgentConfig{}, wantErr: true},
		{name: "id with space", id: "my agent", cfg: config.AgentConfig{}, wantErr: true},
		{name: "id with dash and digits", id: "agent-2", cfg: config.AgentConfig{}},
		{name: "unknown preset", id: "a", cfg: config.AgentConfig{Preset: "mega"}, wantErr: true},
		{name: "custom without tools", id: "a", cfg: config.AgentConfig{Preset: config.PresetCustom}, wantErr: true},
		{name: "custom with tools", id: "a", cfg: config.AgentConfig{Preset: config.PresetCustom, CustomTools: []string{"memory"}}},
		{name: "bad heartbeat interval", id: "a", cfg: config.AgentConfig{Heartbeat: config.HeartbeatConfig{Interval: "soon"}}, wantErr: true},
		{name: "bad active hours", id: "a", cfg: config.AgentConfig{Heartbeat: config.HeartbeatConfig{ActiveHoursStart: "25:99"}}, wantErr: true},
		{name: "good active hours", id: "a", cfg: config.AgentConfig{Heartbeat: config.HeartbeatConfig{ActiveHoursStart: "09:00", ActiveHoursEnd: "22:30"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAgentConfig(tt.id, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterSeedsWorkspace(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.Register("main", config.AgentConfig{Name: "Main", Preset: config.PresetFull})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, p := range []string{a.SoulPath, a.HeartbeatPath} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("missing seeded file %s: %v", p, err)
		}
	}
	if !r.Has("main") {
		t.Fatal("registered agent not listed")
	}

	// Re-register must not clobber an edited soul.
	if err := r.WriteSoul("main", "I am Main."); err != nil {
		t.Fatalf("write soul: %v", err)
	}
	if _, err := r.Register("main", config.AgentConfig{Name: "Main v2"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	soul, err := r.ReadSoul("main")
	if err != nil {
		t.Fatalf("read soul: %v", err)
	}
	if soul != "I am Main." {
		t.Fatalf("soul clobbered on re-register: %q", soul)
	}

	if err := r.Unregister("main"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := r.Unregister("main"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("second unregister err = %v, want ErrAgentNotFound", err)
	}
	// Documents survive unregister.
	if soul, _ := r.ReadSoul("main"); soul != "I am Main." {
		t.Fatal("documents removed on unregister")
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Register("main", config.AgentConfig{Name: "Main"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.WriteSoul("main", "You are Main.\n"); err != nil {
		t.Fatalf("write soul: %v", err)
	}

	t.Run("untouched memory template excluded", func(t *testing.T) {
		prompt, err := r.BuildSystemPrompt("main")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if prompt != "You are Main." {
			t.Fatalf("prompt = %q", prompt)
		}
	})

	t.Run("edited memory included", func(t *testing.T) {
		if err := writeDoc(r.home.MemoryPath("main"), "User likes tea.\n"); err != nil {
			t.Fatal(err)
		}
		prompt, err := r.BuildSystemPrompt("main")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if !strings.Contains(prompt, "User likes tea.") {
			t.Fatalf("memory missing from prompt: %q", prompt)
		}
		if !strings.Contains(prompt, "\n\n") {
			t.Fatal("sections not separated by a blank line")
		}
	})

	t.Run("today log tail truncated", func(t *testing.T) {
		day := time.Now().Format("2006-01-02")
		long := strings.Repeat("x", 5000)
		path := filepath.Join(r.home.MemoryDir("main"), day+".md")
		if err := os.WriteFile(path, []byte(long), 0o644); err != nil {
			t.Fatal(err)
		}
		prompt, err := r.BuildSystemPrompt("main")
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if !strings.Contains(prompt, "...") {
			t.Fatal("truncated log not ellipsis-prefixed")
		}
		if strings.Count(prompt, "x") != activityTailLimit {
			t.Fatalf("log tail = %d chars, want %d", strings.Count(prompt, "x"), activityTailLimit)
		}
	})
}

func TestSeededTemplatesReadable(t *testing.T) {
	for _, name := range []string{bootstrap.SoulFile, bootstrap.MemoryFile, bootstrap.HeartbeatFile, bootstrap.ToolsFile} {
		if _, err := bootstrap.ReadTemplate(name); err != nil {
			t.Errorf("template %s: %v", name, err)
		}
	}
}
