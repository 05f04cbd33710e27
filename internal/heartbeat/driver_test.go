package heartbeat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/sessions"
)

type beatSender struct {
	calls []string
	reply string
}

func (b *beatSender) SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error) {
	b.calls = append(b.calls, prompt)
	return sessions.Reply{Text: b.reply}, nil
}

func TestWithinActiveHours(t *testing.T) {
	at := func(hhmm string) time.Time {
		parsed, err := time.Parse("15:04", hhmm)
		if err != nil {
			t.Fatal(err)
		}
		return time.Date(2026, 8, 24, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
	}
	tests := []struct {
		name  string
		now   string
		start string
		end   string
		want  bool
	}{
		{"no bounds", "03:00", "", "", true},
		{"inside", "10:00", "09:00", "22:00", true},
		{"start inclusive", "09:00", "09:00", "22:00", true},
		{"end exclusive", "22:00", "09:00", "22:00", false},
		{"before", "08:59", "09:00", "22:00", false},
		{"wraps midnight inside", "23:30", "22:00", "06:00", true},
		{"wraps midnight early morning", "05:00", "22:00", "06:00", true},
		{"wraps midnight outside", "12:00", "22:00", "06:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := withinActiveHours(at(tt.now), tt.start, tt.end); got != tt.want {
				t.Fatalf("withinActiveHours(%s, %s, %s) = %v", tt.now, tt.start, tt.end, got)
			}
		})
	}
}

func newBeatDriver(t *testing.T, hb config.HeartbeatConfig, sender Sender) *Driver {
	t.Helper()
	home := config.HomeAt(t.TempDir())
	reg := agents.NewRegistry(home, config.Default(), nil, nil)
	if _, err := reg.Register("main", config.AgentConfig{Name: "Main", Heartbeat: hb}); err != nil {
		t.Fatal(err)
	}
	return NewDriver(reg, sender, nil)
}

func TestBeatSkipsOutsideActiveHours(t *testing.T) {
	sender := &beatSender{reply: OKToken}
	d := newBeatDriver(t, config.HeartbeatConfig{
		Enabled:          true,
		ActiveHoursStart: "09:00",
		ActiveHoursEnd:   "17:00",
	}, sender)
	d.now = func() time.Time { return time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC) }

	d.Beat(context.Background(), "main")
	if len(sender.calls) != 0 {
		t.Fatal("beat ran outside active hours")
	}

	d.now = func() time.Time { return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC) }
	d.Beat(context.Background(), "main")
	if len(sender.calls) != 1 {
		t.Fatal("beat did not run inside active hours")
	}
}

func TestBeatPromptIncludesInstructions(t *testing.T) {
	sender := &beatSender{reply: OKToken}
	d := newBeatDriver(t, config.HeartbeatConfig{Enabled: true}, sender)

	d.Beat(context.Background(), "main")
	if len(sender.calls) != 1 {
		t.Fatal("beat did not run")
	}
	prompt := sender.calls[0]
	if !strings.Contains(prompt, OKToken) {
		t.Fatalf("check prompt missing ok token: %q", prompt)
	}
	// The seeded HEARTBEAT.md is included verbatim.
	if !strings.Contains(prompt, "HEARTBEAT.md") {
		t.Fatalf("prompt missing instructions section: %q", prompt)
	}
}

func TestBeatWorkMode(t *testing.T) {
	sender := &beatSender{reply: "did three things"}
	d := newBeatDriver(t, config.HeartbeatConfig{Enabled: true, Mode: config.HeartbeatWork}, sender)

	d.Beat(context.Background(), "main")
	if len(sender.calls) != 1 {
		t.Fatal("beat did not run")
	}
	if strings.Contains(sender.calls[0], "reply exactly") {
		t.Fatal("work mode used the check prompt")
	}
}
