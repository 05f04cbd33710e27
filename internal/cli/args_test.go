package cli

import (
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"testing"
)

func fullCaps() *Capabilities {
	return &Capabilities{
		Version:          "2.0.0",
		StreamJSON:       true,
		Resume:           true,
		SystemPrompt:     true,
		SystemPromptFile: true,
		AllowedTools:     true,
		MCPConfig:        true,
		MaxTurns:         true,
		Model:            true,
	}
}

func TestBuildArgs(t *testing.T) {
	opts := Options{
		Prompt:          "hello",
		ResumeSessionID: "sess-1",
		Model:           "opus",
		MaxTurns:        12,
		MCPConfigPath:   "/tmp/mcp.json",
		AllowedTools:    []string{"mcp__memory", "mcp__sessions"},
	}
	got := BuildArgs(opts, fullCaps())
	want := []string{
		"--print", "--output-format", "stream-json", "--verbose",
		"--model", "opus",
		"--max-turns", "12",
		"--resume", "sess-1",
		"--mcp-config", "/tmp/mcp.json",
		"--allowedTools", "mcp__memory,mcp__sessions",
		"hello",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
}

func TestBuildArgsOmitsUnsupportedFlags(t *testing.T) {
	caps := fullCaps()
	caps.Model = false
	caps.MaxTurns = false
	caps.AllowedTools = false

	got := BuildArgs(Options{Prompt: "p", Model: "opus", MaxTurns: 5, AllowedTools: []string{"x"}}, caps)
	for _, flag := range []string{"--model", "--max-turns", "--allowedTools"} {
		if slices.Contains(got, flag) {
			t.Errorf("args contain %s despite missing capability: %v", flag, got)
		}
	}
}

func TestBuildArgsSystemPromptFileFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soul.md")
	if err := os.WriteFile(path, []byte("S"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("file flag supported", func(t *testing.T) {
		got := BuildArgs(Options{Prompt: "p", SystemPromptFile: path}, fullCaps())
		if i := slices.Index(got, "--append-system-prompt-file"); i < 0 || got[i+1] != path {
			t.Fatalf("missing file flag: %v", got)
		}
	})

	t.Run("falls back to file contents inline", func(t *testing.T) {
		caps := fullCaps()
		caps.SystemPromptFile = false
		got := BuildArgs(Options{Prompt: "p", SystemPromptFile: path}, caps)
		if slices.Contains(got, "--append-system-prompt-file") {
			t.Fatalf("file flag present despite missing capability: %v", got)
		}
		if i := slices.Index(got, "--append-system-prompt"); i < 0 || got[i+1] != "S" {
			t.Fatalf("inline contents not passed: %v", got)
		}
	})

	t.Run("unreadable file falls back to inline value", func(t *testing.T) {
		caps := fullCaps()
		caps.SystemPromptFile = false
		got := BuildArgs(Options{Prompt: "p", SystemPromptFile: "/no/such/file", SystemPrompt: "inline"}, caps)
		if i := slices.Index(got, "--append-system-prompt"); i < 0 || got[i+1] != "inline" {
			t.Fatalf("inline fallback not used: %v", got)
		}
	})
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"claude 2.1.3 (Claude Code)", "2.1.3", true},
		{"v1.0.0-beta.2\n", "1.0.0", true},
		{"1.0.0", "1.0.0", true},
		{"no version here", "", false},
	}
	for _, tt := range tests {
		got, ok := parseVersion(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseVersion(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCapabilityCheck(t *testing.T) {
	t.Run("version below minimum", func(t *testing.T) {
		caps := fullCaps()
		caps.Version = "0.9.9"
		if err := caps.check(); err == nil {
			t.Fatal("expected incompatibility error")
		}
	})
	t.Run("missing stream-json is critical", func(t *testing.T) {
		caps := fullCaps()
		caps.StreamJSON = false
		if err := caps.check(); err == nil {
			t.Fatal("expected incompatibility error")
		}
	})
	t.Run("either system prompt form suffices", func(t *testing.T) {
		caps := fullCaps()
		caps.SystemPromptFile = false
		if err := caps.check(); err != nil {
			t.Fatalf("check: %v", err)
		}
	})
	t.Run("missing optional capability passes", func(t *testing.T) {
		caps := fullCaps()
		caps.Model = false
		caps.MaxTurns = false
		if err := caps.check(); err != nil {
			t.Fatalf("check: %v", err)
		}
	})
}

func TestCapsFromHelp(t *testing.T) {
	help := `Usage: fakecli [options] [prompt]
  --print                       non-interactive output
  --output-format <fmt>         text, json, stream-json
  --resume <id>                 resume a session
  --append-system-prompt <text> append to the system prompt
  --mcp-config <path>           tool server config
  --model <name>                model override
`
	caps := capsFromHelp("1.2.3", help)
	if !caps.StreamJSON || !caps.Resume || !caps.SystemPrompt || !caps.MCPConfig || !caps.Model {
		t.Fatalf("advertised flags not detected: %+v", caps)
	}
	if caps.SystemPromptFile || caps.AllowedTools || caps.MaxTurns {
		t.Fatalf("unadvertised flags detected: %+v", caps)
	}
}
