// Package heartbeat runs periodic self-audit turns for agents that opt in.
package heartbeat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/sessions"
)

const (
	defaultInterval = 30 * time.Minute

	// OKToken is the reply an agent gives when a check heartbeat found
	// nothing to do. With suppressOk set, such replies are not logged at
	// info level.
	OKToken = "HEARTBEAT_OK"
)

// Sender dispatches a heartbeat prompt. *sessions.Manager satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error)
}

// Driver ticks every enabled agent on its own interval, inside its
// active hours.
type Driver struct {
	registry *agents.Registry
	sender   Sender
	log      *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time // test hook
}

// NewDriver builds a heartbeat driver.
func NewDriver(reg *agents.Registry, sender Sender, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{registry: reg, sender: sender, log: log, now: time.Now}
}

// Start launches one ticker per heartbeat-enabled agent.
func (d *Driver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	for _, agent := range d.registry.List() {
		if !agent.Config.Heartbeat.Enabled {
			continue
		}
		agent := agent
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.loop(ctx, agent)
		}()
	}
}

// Stop halts all tickers and waits for in-flight beats.
func (d *Driver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Driver) loop(ctx context.Context, agent agents.Agent) {
	interval := defaultInterval
	if v := agent.Config.Heartbeat.Interval; v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			interval = parsed
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Beat(ctx, agent.ID)
		}
	}
}

// Beat runs one heartbeat turn for an agent, honouring active hours.
func (d *Driver) Beat(ctx context.Context, agentID string) {
	agent, ok := d.registry.TryGet(agentID)
	if !ok {
		return
	}
	hb := agent.Config.Heartbeat
	if !withinActiveHours(d.now(), hb.ActiveHoursStart, hb.ActiveHoursEnd) {
		d.log.Debug("heartbeat outside active hours", "agent", agentID)
		return
	}

	instructions, err := d.registry.ReadHeartbeat(agentID)
	if err != nil {
		d.log.Warn("reading heartbeat file failed", "agent", agentID, "error", err)
		return
	}
	prompt := buildPrompt(hb.Mode, instructions)

	reply, err := d.sender.SendMessage(ctx, agentID, prompt, "heartbeat", agentID, "")
	if err != nil {
		d.log.Warn("heartbeat turn failed", "agent", agentID, "error", err)
		return
	}
	if hb.SuppressOK && strings.TrimSpace(reply.Text) == OKToken {
		d.log.Debug("heartbeat ok", "agent", agentID)
		return
	}
	d.log.Info("heartbeat", "agent", agentID, "reply", reply.Text)
}

func buildPrompt(mode config.HeartbeatMode, instructions string) string {
	var b strings.Builder
	b.WriteString("Heartbeat. ")
	switch mode {
	case config.HeartbeatWork:
		b.WriteString("Work through your heartbeat checklist now and report what you did.")
	default:
		b.WriteString("Check your heartbeat checklist. If there is nothing to do, reply exactly " + OKToken + " and nothing else.")
	}
	if s := strings.TrimSpace(instructions); s != "" {
		b.WriteString("\n\n--- HEARTBEAT.md ---\n")
		b.WriteString(s)
	}
	return b.String()
}

// withinActiveHours reports whether t falls inside the [start, end)
// window. Empty bounds mean always active; a window may wrap midnight.
func withinActiveHours(t time.Time, start, end string) bool {
	if start == "" || end == "" {
		return true
	}
	s, err1 := time.Parse("15:04", start)
	e, err2 := time.Parse("15:04", end)
	if err1 != nil || err2 != nil {
		return true
	}
	cur := t.Hour()*60 + t.Minute()
	from := s.Hour()*60 + s.Minute()
	to := e.Hour()*60 + e.Minute()
	if from == to {
		return true
	}
	if from < to {
		return cur >= from && cur < to
	}
	// Wraps midnight, e.g. 22:00–06:00.
	return cur >= from || cur < to
}
