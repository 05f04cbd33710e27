package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/sessions"
)

// Sender runs one agent turn for an inbound message. *sessions.Manager
// satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error)
}

// Manager owns the registered adapters: lifecycle, inbound routing to
// agents, and outbound delivery. It satisfies the Deliverer seams of
// the cron scheduler and the IPC server.
type Manager struct {
	cfg     *config.Config
	sender  Sender
	limiter *keyedLimiter
	log     *slog.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager builds a channel manager. Adapters register before StartAll.
func NewManager(cfg *config.Config, sender Sender, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		sender:   sender,
		limiter:  newKeyedLimiter(),
		log:      log,
		channels: map[string]Channel{},
	}
}

// Register adds an adapter under its own name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// StartAll starts every adapter. A failing adapter is logged and
// skipped; the rest keep running.
func (m *Manager) StartAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			m.log.Error("channel start failed", "channel", name, "error", err)
			continue
		}
		m.log.Info("channel started", "channel", name)
	}
}

// StopAll stops every adapter.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
}

// HandleInbound routes one adapter message: resolve the agent from the
// routing rules, run the turn, send the reply back where it came from.
func (m *Manager) HandleInbound(ctx context.Context, msg Inbound) {
	if !m.limiter.Allow(msg.Channel + ":" + msg.UserID) {
		m.log.Warn("inbound rate limited", "channel", msg.Channel, "user", msg.UserID)
		return
	}

	agentID := m.cfg.RouteAgent(msg.Channel, peerOf(msg))
	reply, err := m.sender.SendMessage(ctx, agentID, msg.Text, msg.Channel, msg.UserID, msg.ChatID)
	if err != nil {
		m.log.Error("inbound turn failed", "channel", msg.Channel, "agent", agentID, "error", err)
		return
	}
	if reply.Text == "" {
		return
	}

	target := msg.ChatID
	if target == "" {
		target = msg.UserID
	}
	if err := m.Deliver(ctx, msg.Channel, target, reply.Text); err != nil {
		m.log.Error("reply delivery failed", "channel", msg.Channel, "target", target, "error", err)
	}
}

// Deliver posts text to an adapter. Internal channel names are rejected
// rather than silently dropped so callers learn about bad deliverTo
// values.
func (m *Manager) Deliver(ctx context.Context, channel, target, text string) error {
	if IsInternal(channel) {
		return fmt.Errorf("channel %q is internal", channel)
	}
	m.mu.RLock()
	ch, ok := m.channels[channel]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("channel %q not registered", channel)
	}
	return ch.Send(ctx, target, text)
}

// peerOf picks the routing peer: the chat when present, else the user.
func peerOf(msg Inbound) string {
	if msg.ChatID != "" {
		return msg.ChatID
	}
	return msg.UserID
}
