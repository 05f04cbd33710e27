// Package agents maps agent ids to their configuration and identity
// documents (soul, memory, heartbeat, tools notes) on disk.
package agents

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/cladehq/clade/internal/bootstrap"
	"github.com/cladehq/clade/internal/config"
)

// ErrAgentNotFound reports an unknown agent id.
var ErrAgentNotFound = fmt.Errorf("agent not found")

// Agent is the resolved bundle for one agent id.
type Agent struct {
	ID            string
	Config        config.AgentConfig
	BaseDir       string
	SoulPath      string
	MemoryDir     string
	HeartbeatPath string
}

// Registry resolves agent ids against the config and the home layout.
// Mutations go through the shared Config and are persisted via the
// injected save hook.
type Registry struct {
	home    config.Home
	cfg     *config.Config
	persist func() error
	log     *slog.Logger
}

// NewRegistry builds a registry. persist is called after every config
// mutation; pass a no-op for read-only contexts.
func NewRegistry(home config.Home, cfg *config.Config, persist func() error, log *slog.Logger) *Registry {
	if persist == nil {
		persist = func() error { return nil }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Registry{home: home, cfg: cfg, persist: persist, log: log}
}

var agentIDRe = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ValidateAgentConfig checks an id/config pair against the schema.
func ValidateAgentConfig(id string, ac config.AgentConfig) error {
	if !agentIDRe.MatchString(id) {
		return fmt.Errorf("agent id %q: must match [a-z0-9_-]+", id)
	}
	if ac.Preset != "" {
		valid := false
		for _, p := range config.ValidPresets {
			if ac.Preset == p {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("agent %q: unknown preset %q", id, ac.Preset)
		}
	}
	if ac.Preset == config.PresetCustom && len(ac.CustomTools) == 0 {
		return fmt.Errorf("agent %q: preset custom requires customTools", id)
	}
	if ac.Heartbeat.Interval != "" {
		if _, err := time.ParseDuration(ac.Heartbeat.Interval); err != nil {
			return fmt.Errorf("agent %q: heartbeat interval: %w", id, err)
		}
	}
	for _, hhmm := range []string{ac.Heartbeat.ActiveHoursStart, ac.Heartbeat.ActiveHoursEnd} {
		if hhmm == "" {
			continue
		}
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("agent %q: active hours %q: %w", id, hhmm, err)
		}
	}
	if ac.Reflection.Interval < 0 {
		return fmt.Errorf("agent %q: reflection interval must be positive", id)
	}
	if ac.MaxTurns < 0 {
		return fmt.Errorf("agent %q: maxTurns must be positive", id)
	}
	return nil
}

func (r *Registry) resolve(id string, ac config.AgentConfig) Agent {
	return Agent{
		ID:            id,
		Config:        ac,
		BaseDir:       r.home.AgentDir(id),
		SoulPath:      r.home.SoulPath(id),
		MemoryDir:     r.home.MemoryDir(id),
		HeartbeatPath: r.home.HeartbeatPath(id),
	}
}

// List returns every registered agent, ordered by id.
func (r *Registry) List() []Agent {
	ids := r.IDs()
	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if ac, ok := r.cfg.Agent(id); ok {
			out = append(out, r.resolve(id, ac))
		}
	}
	return out
}

// IDs returns the registered agent ids, sorted.
func (r *Registry) IDs() []string {
	ids := r.cfg.AgentIDs()
	sort.Strings(ids)
	return ids
}

// Has reports whether an agent id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.cfg.Agent(id)
	return ok
}

// TryGet resolves an agent id to its bundle.
func (r *Registry) TryGet(id string) (Agent, bool) {
	ac, ok := r.cfg.Agent(id)
	if !ok {
		return Agent{}, false
	}
	return r.resolve(id, ac), true
}

// Get resolves an agent id or fails with ErrAgentNotFound.
func (r *Registry) Get(id string) (Agent, error) {
	a, ok := r.TryGet(id)
	if !ok {
		return Agent{}, fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// Register creates or replaces an agent: validates the config, seeds the
// identity documents, persists the config file.
func (r *Registry) Register(id string, ac config.AgentConfig) (Agent, error) {
	if err := ValidateAgentConfig(id, ac); err != nil {
		return Agent{}, err
	}
	created, err := bootstrap.EnsureAgentFiles(r.home, id)
	if err != nil {
		return Agent{}, fmt.Errorf("seed agent %q: %w", id, err)
	}
	if len(created) > 0 {
		r.log.Info("seeded agent workspace", "agent", id, "files", created)
	}
	r.cfg.SetAgent(id, ac)
	if err := r.persist(); err != nil {
		return Agent{}, fmt.Errorf("persist config: %w", err)
	}
	return r.resolve(id, ac), nil
}

// Unregister removes an agent from the config. Its documents stay on
// disk so re-registering the same id restores the identity.
func (r *Registry) Unregister(id string) error {
	if !r.Has(id) {
		return fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
	}
	r.cfg.RemoveAgent(id)
	if err := r.persist(); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	return nil
}
