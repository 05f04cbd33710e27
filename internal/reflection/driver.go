// Package reflection rewrites an agent's soul every N turns: the CLI is
// asked to propose a revision, the old soul is snapshotted, the revision
// becomes the new soul.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/sessions"
)

const (
	// defaultInterval is the turn count between reflections.
	defaultInterval = 10

	// reflectTimeout bounds the meta-invocation.
	reflectTimeout = 10 * time.Minute
)

const reflectInstruction = `Review your soul document below. Propose a complete revised version
that keeps what still holds, sharpens what you have learned, and removes
what no longer fits. Reply with ONLY the full revised document, no
commentary. Reply with nothing at all if no revision is needed.

--- CURRENT SOUL ---
`

// Driver counts successful turns per agent and runs the soul rewrite
// when the configured interval is reached. One reflection in flight per
// agent; extra attempts are dropped.
type Driver struct {
	registry *agents.Registry
	invoker  sessions.Invoker
	home     config.Home
	log      *slog.Logger

	mu       sync.Mutex
	counters map[string]int
	inflight map[string]bool
}

// NewDriver builds a reflection driver.
func NewDriver(reg *agents.Registry, invoker sessions.Invoker, home config.Home, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		registry: reg,
		invoker:  invoker,
		home:     home,
		log:      log,
		counters: map[string]int{},
		inflight: map[string]bool{},
	}
}

// AfterTurn is called (fire-and-forget) after every successful turn.
// Errors are logged, never surfaced.
func (d *Driver) AfterTurn(agentID string) {
	agent, ok := d.registry.TryGet(agentID)
	if !ok || !agent.Config.Reflection.Enabled {
		return
	}
	interval := agent.Config.Reflection.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	d.mu.Lock()
	d.counters[agentID]++
	if d.counters[agentID] < interval || d.inflight[agentID] {
		d.mu.Unlock()
		return
	}
	d.counters[agentID] = 0
	d.inflight[agentID] = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight[agentID] = false
		d.mu.Unlock()
	}()

	if err := d.reflect(agentID); err != nil {
		d.log.Warn("reflection failed", "agent", agentID, "error", err)
	}
}

// reflect runs one meta-invocation and applies a non-empty revision.
func (d *Driver) reflect(agentID string) error {
	soul, err := d.registry.ReadSoul(agentID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), reflectTimeout)
	defer cancel()

	res, err := d.invoker.Run(ctx, cli.Options{
		Prompt: reflectInstruction + soul,
	})
	if err != nil {
		return err
	}
	revision := strings.TrimSpace(res.Text)
	if revision == "" {
		d.log.Debug("reflection proposed no revision", "agent", agentID)
		return nil
	}

	if err := d.snapshot(agentID, soul); err != nil {
		return fmt.Errorf("snapshot soul: %w", err)
	}
	if err := d.registry.WriteSoul(agentID, revision+"\n"); err != nil {
		return fmt.Errorf("write revised soul: %w", err)
	}
	d.log.Info("soul revised", "agent", agentID, "bytes", len(revision))
	return nil
}

// snapshot writes the pre-reflection soul to soul-history/YYYY-MM-DD.md.
// The first snapshot of a day wins; later reflections the same day keep it.
func (d *Driver) snapshot(agentID, soul string) error {
	dir := d.home.SoulHistoryDir(agentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(dir, time.Now().Format("2006-01-02")+".md")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(soul)
	return err
}

// Counter returns the current turn count for an agent. Test hook.
func (d *Driver) Counter(agentID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters[agentID]
}
