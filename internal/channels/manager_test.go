package channels

import (
	"context"
	"sync"
	"testing"

	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/sessions"
)

type fakeChannel struct {
	mu      sync.Mutex
	name    string
	sends   []string
	targets []string
	running bool
}

func (f *fakeChannel) Name() string                    { return f.name }
func (f *fakeChannel) Start(ctx context.Context) error { f.running = true; return nil }
func (f *fakeChannel) Stop(ctx context.Context) error  { f.running = false; return nil }

func (f *fakeChannel) Send(ctx context.Context, target, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	f.sends = append(f.sends, text)
	return nil
}

type routeSender struct {
	mu     sync.Mutex
	agents []string
	reply  string
}

func (r *routeSender) SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = append(r.agents, agentID)
	return sessions.Reply{Text: r.reply, SessionID: "s1"}, nil
}

func newTestChannelManager(sender Sender) (*Manager, *fakeChannel) {
	cfg := config.Default()
	cfg.Routing = config.RoutingConfig{
		DefaultAgent: "main",
		Rules: []config.RoutingRule{
			{Channel: "telegram", Peer: "ops-room", AgentID: "opsbot"},
		},
	}
	m := NewManager(cfg, sender, nil)
	ch := &fakeChannel{name: "telegram"}
	m.Register(ch)
	return m, ch
}

func TestHandleInboundRoutesAndReplies(t *testing.T) {
	sender := &routeSender{reply: "hello back"}
	m, ch := newTestChannelManager(sender)
	ctx := context.Background()

	m.HandleInbound(ctx, Inbound{Channel: "telegram", UserID: "u1", ChatID: "ops-room", Text: "hi"})
	if len(sender.agents) != 1 || sender.agents[0] != "opsbot" {
		t.Fatalf("routed agents = %v", sender.agents)
	}
	if len(ch.sends) != 1 || ch.sends[0] != "hello back" || ch.targets[0] != "ops-room" {
		t.Fatalf("sends = %v targets = %v", ch.sends, ch.targets)
	}

	// Unmatched peer falls back to the default agent, reply targets the user.
	m.HandleInbound(ctx, Inbound{Channel: "telegram", UserID: "u2", Text: "hey"})
	if sender.agents[1] != "main" {
		t.Fatalf("fallback agent = %s", sender.agents[1])
	}
	if ch.targets[1] != "u2" {
		t.Fatalf("fallback target = %s", ch.targets[1])
	}
}

func TestDeliverRejectsInternalAndUnknown(t *testing.T) {
	m, ch := newTestChannelManager(&routeSender{})
	ctx := context.Background()

	if err := m.Deliver(ctx, "cron", "x", "text"); err == nil {
		t.Fatal("delivered to an internal channel")
	}
	if err := m.Deliver(ctx, "discord", "x", "text"); err == nil {
		t.Fatal("delivered to an unregistered channel")
	}
	if err := m.Deliver(ctx, "telegram", "u9", "direct"); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if len(ch.sends) != 1 || ch.targets[0] != "u9" {
		t.Fatalf("sends = %v", ch.sends)
	}
}

func TestInboundRateLimit(t *testing.T) {
	sender := &routeSender{reply: ""}
	m, _ := newTestChannelManager(sender)
	ctx := context.Background()

	// The burst admits the first messages, then the bucket runs dry.
	for i := 0; i < inboundBurst+5; i++ {
		m.HandleInbound(ctx, Inbound{Channel: "telegram", UserID: "flooder", Text: "spam"})
	}
	if len(sender.agents) != inboundBurst {
		t.Fatalf("turns run = %d, want %d", len(sender.agents), inboundBurst)
	}

	// A different sender has its own bucket.
	m.HandleInbound(ctx, Inbound{Channel: "telegram", UserID: "calm", Text: "hi"})
	if len(sender.agents) != inboundBurst+1 {
		t.Fatal("second sender was throttled by the first")
	}
}

func TestIsInternal(t *testing.T) {
	for _, name := range []string{"cli", "cron", "taskqueue", "heartbeat", "agent", "system"} {
		if !IsInternal(name) {
			t.Errorf("IsInternal(%q) = false", name)
		}
	}
	if IsInternal("telegram") {
		t.Error("telegram flagged internal")
	}
}
