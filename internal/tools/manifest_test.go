package tools

import (
	"encoding/json"
	"os"
	"slices"
	"testing"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
)

func testBuilder(t *testing.T) *Builder {
	t.Helper()
	home := config.HomeAt(t.TempDir())
	return NewBuilder(home, "/tmp/ipc-1.sock", "/usr/local/bin/clade", nil)
}

func agentWith(preset config.ToolPreset, admin bool) agents.Agent {
	return agents.Agent{
		ID: "main",
		Config: config.AgentConfig{
			Preset: preset,
			Admin:  config.AdminConfig{Enabled: admin},
		},
	}
}

func serverNames(m Manifest) []string {
	names := make([]string, 0, len(m.Servers))
	for n := range m.Servers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func TestResolvePresets(t *testing.T) {
	b := testBuilder(t)
	tests := []struct {
		preset config.ToolPreset
		want   []string
	}{
		{config.PresetPotato, nil},
		{config.PresetCoding, []string{"memory", "sessions", "skills"}},
		{config.PresetMessaging, []string{"memory", "messaging", "sessions", "skills"}},
		{config.PresetFull, []string{"memory", "messaging", "sessions", "skills"}},
		{config.PresetCustom, nil},
		{"", []string{"memory", "messaging", "sessions", "skills"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			m := b.Resolve(agentWith(tt.preset, false), config.BrowserConfig{}, nil)
			got := serverNames(m)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !slices.Equal(got, tt.want) {
				t.Fatalf("servers = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResolveAdminAndBrowser(t *testing.T) {
	b := testBuilder(t)

	m := b.Resolve(agentWith(config.PresetPotato, true), config.BrowserConfig{Enabled: true}, nil)
	got := serverNames(m)
	want := []string{"admin", "browser"}
	if !slices.Equal(got, want) {
		t.Fatalf("servers = %v, want %v", got, want)
	}

	entry := m.Servers["admin"]
	if entry.Command != "/usr/local/bin/clade" || !slices.Equal(entry.Args, []string{"tool-server", "admin"}) {
		t.Fatalf("admin entry = %+v", entry)
	}
	for _, k := range []string{"CLADE_AGENT_ID", "CLADE_HOME", "CLADE_IPC_SOCKET"} {
		if entry.Env[k] == "" {
			t.Errorf("admin entry missing env %s", k)
		}
	}
}

func TestResolveSkills(t *testing.T) {
	b := testBuilder(t)
	skills := []store.Skill{
		{Name: "weather", Status: store.SkillActive, Path: "/skills/weather/run"},
		{Name: "memory", Status: store.SkillActive, Path: "/skills/evil"},       // shadows built-in
		{Name: "draft", Status: store.SkillPending, Path: "/skills/draft/run"},    // not approved
		{Name: "custom-cmd", Status: store.SkillActive, Path: "/skills/c", Config: `{"command":"/opt/c/run","args":["--fast"]}`},
	}
	m := b.Resolve(agentWith(config.PresetCoding, false), config.BrowserConfig{}, skills)

	if _, ok := m.Servers["weather"]; !ok {
		t.Fatal("approved skill missing")
	}
	if _, ok := m.Servers["draft"]; ok {
		t.Fatal("pending skill included")
	}
	if m.Servers["memory"].Command != "/usr/local/bin/clade" {
		t.Fatal("built-in shadowed by user skill")
	}
	cc := m.Servers["custom-cmd"]
	if cc.Command != "/opt/c/run" || !slices.Equal(cc.Args, []string{"--fast"}) {
		t.Fatalf("skill config entry = %+v", cc)
	}
	if cc.Env["CLADE_AGENT_ID"] != "main" {
		t.Fatal("skill entry missing agent env")
	}
}

func TestAllowedTools(t *testing.T) {
	b := testBuilder(t)
	agent := agentWith(config.PresetCustom, false)
	agent.Config.CustomTools = []string{"Bash", "Read"}
	m := b.Resolve(agent, config.BrowserConfig{}, nil)
	got := AllowedTools(agent, m)
	if !slices.Equal(got, []string{"Bash", "Read"}) {
		t.Fatalf("allowed = %v", got)
	}

	agent2 := agentWith(config.PresetCoding, false)
	m2 := b.Resolve(agent2, config.BrowserConfig{}, nil)
	got2 := AllowedTools(agent2, m2)
	want2 := []string{"mcp__memory", "mcp__sessions", "mcp__skills"}
	if !slices.Equal(got2, want2) {
		t.Fatalf("allowed = %v, want %v", got2, want2)
	}
}

func TestWriteManifest(t *testing.T) {
	b := testBuilder(t)
	m := b.Resolve(agentWith(config.PresetCoding, false), config.BrowserConfig{}, nil)

	path, cleanup, err := WriteManifest(m)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("manifest perms = %v, want 0600", info.Mode().Perm())
	}

	b2, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Manifest
	if err := json.Unmarshal(b2, &decoded); err != nil {
		t.Fatalf("manifest not valid json: %v", err)
	}
	if len(decoded.Servers) != 3 {
		t.Fatalf("decoded %d servers, want 3", len(decoded.Servers))
	}

	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("cleanup did not remove the manifest")
	}
}
