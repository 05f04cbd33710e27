// Package config holds the host configuration loaded from config.json
// under the clade home directory.
//
// The root Config is mutex-guarded: the registry and the config persister
// are the only writers, everything else reads through snapshot accessors.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// SchemaVersion is the config.json schema this build reads and writes.
// Files carrying a different version are rejected at load time.
const SchemaVersion = 1

// DefaultAgentID is the agent used when routing finds no match.
const DefaultAgentID = "main"

// Config is the root configuration for the clade host.
type Config struct {
	SchemaVersion int                      `json:"schemaVersion"`
	Agents        map[string]AgentConfig   `json:"agents,omitempty"`
	Channels      map[string]ChannelConfig `json:"channels,omitempty"`
	Gateway       GatewayConfig            `json:"gateway,omitempty"`
	Routing       RoutingConfig            `json:"routing,omitempty"`
	Skills        SkillsConfig             `json:"skills,omitempty"`
	Browser       BrowserConfig            `json:"browser,omitempty"`
	CLI           CLIConfig                `json:"cli,omitempty"`
	Tasks         TasksConfig              `json:"tasks,omitempty"`
	Telemetry     TelemetryConfig          `json:"telemetry,omitempty"`

	mu sync.RWMutex
}

// ToolPreset names a built-in bundle of tool servers.
type ToolPreset string

const (
	PresetPotato    ToolPreset = "potato"
	PresetCoding    ToolPreset = "coding"
	PresetMessaging ToolPreset = "messaging"
	PresetFull      ToolPreset = "full"
	PresetCustom    ToolPreset = "custom"
)

// ValidPresets lists every accepted tool preset value.
var ValidPresets = []ToolPreset{PresetPotato, PresetCoding, PresetMessaging, PresetFull, PresetCustom}

// HeartbeatMode selects what a heartbeat turn asks the agent to do.
type HeartbeatMode string

const (
	HeartbeatCheck HeartbeatMode = "check"
	HeartbeatWork  HeartbeatMode = "work"
)

// AgentConfig is the mutable per-agent configuration record.
// The identity documents (soul, memory, heartbeat, tools notes) live on
// disk next to it and are owned by the registry.
type AgentConfig struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Model       string          `json:"model,omitempty"`
	Preset      ToolPreset      `json:"preset,omitempty"`
	CustomTools []string        `json:"customTools,omitempty"` // only meaningful when Preset == custom
	Skills      []string        `json:"skills,omitempty"`
	Heartbeat   HeartbeatConfig `json:"heartbeat,omitempty"`
	Reflection  ReflectConfig   `json:"reflection,omitempty"`
	MaxTurns    int             `json:"maxTurns,omitempty"`
	Admin       AdminConfig     `json:"admin,omitempty"`
}

// HeartbeatConfig schedules periodic self-audit turns for an agent.
type HeartbeatConfig struct {
	Enabled          bool          `json:"enabled,omitempty"`
	Interval         string        `json:"interval,omitempty"`         // Go duration, default "30m"
	ActiveHoursStart string        `json:"activeHoursStart,omitempty"` // "HH:MM" inclusive
	ActiveHoursEnd   string        `json:"activeHoursEnd,omitempty"`   // "HH:MM" exclusive
	Mode             HeartbeatMode `json:"mode,omitempty"`             // check (default) or work
	SuppressOK       bool          `json:"suppressOk,omitempty"`
}

// ReflectConfig controls the post-turn soul rewrite cadence.
type ReflectConfig struct {
	Enabled  bool `json:"enabled,omitempty"`
	Interval int  `json:"interval,omitempty"` // turns between reflections, default 10
}

// AdminConfig grants an agent access to the admin tool server.
type AdminConfig struct {
	Enabled          bool `json:"enabled,omitempty"`
	AutoApprove      bool `json:"autoApprove,omitempty"`
	CanCreateSkills  bool `json:"canCreateSkills,omitempty"`
	CanManageAgents  bool `json:"canManageAgents,omitempty"`
	CanModifyConfig  bool `json:"canModifyConfig,omitempty"`
}

// ChannelConfig is the per-channel adapter configuration. Adapters are
// external collaborators; the host only tracks enablement and passes the
// raw options through.
type ChannelConfig struct {
	Enabled bool                       `json:"enabled"`
	Options map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps unknown channel options without interpreting them.
func (c *ChannelConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["enabled"]; ok {
		if err := json.Unmarshal(v, &c.Enabled); err != nil {
			return fmt.Errorf("channel enabled: %w", err)
		}
		delete(raw, "enabled")
	}
	c.Options = raw
	return nil
}

// MarshalJSON emits enabled plus the retained options.
func (c ChannelConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Options)+1)
	for k, v := range c.Options {
		out[k] = v
	}
	enabled, _ := json.Marshal(c.Enabled)
	out["enabled"] = enabled
	return json.Marshal(out)
}

// GatewayConfig records where an external admin gateway should bind.
// The gateway process itself is not part of this host.
type GatewayConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// RoutingConfig maps inbound traffic to agents.
type RoutingConfig struct {
	DefaultAgent string        `json:"defaultAgent,omitempty"`
	Rules        []RoutingRule `json:"rules,omitempty"`
}

// RoutingRule binds a channel (and optionally a peer) to an agent.
type RoutingRule struct {
	Channel string `json:"channel"`
	Peer    string `json:"peer,omitempty"` // chat or user id; empty matches the whole channel
	AgentID string `json:"agentId"`
}

// SkillsConfig controls the user skills registry.
type SkillsConfig struct {
	AutoApprove []string `json:"autoApprove,omitempty"`
}

// BrowserConfig enables the optional browser automation tool server.
type BrowserConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	UserDataDir string `json:"userDataDir,omitempty"`
	CDPEndpoint string `json:"cdpEndpoint,omitempty"` // connect instead of launch
	Browser     string `json:"browser,omitempty"`     // explicit browser binary
	Headless    *bool  `json:"headless,omitempty"`    // default true
}

// CLIConfig locates and tunes the external LLM CLI.
type CLIConfig struct {
	Command     string `json:"command,omitempty"`     // default "claude"
	IdleTimeout string `json:"idleTimeout,omitempty"` // Go duration, default "120s"
	HardTimeout string `json:"hardTimeout,omitempty"` // Go duration, default "30m"
}

// TasksConfig tunes the deferred task queue.
type TasksConfig struct {
	MaxConcurrent int `json:"maxConcurrent,omitempty"` // default 4
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"` // default "clade"
}

// ReplaceFrom copies all data fields from src, preserving the mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SchemaVersion = src.SchemaVersion
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Gateway = src.Gateway
	c.Routing = src.Routing
	c.Skills = src.Skills
	c.Browser = src.Browser
	c.CLI = src.CLI
	c.Tasks = src.Tasks
	c.Telemetry = src.Telemetry
}

// Agent returns a snapshot of one agent's config.
func (c *Config) Agent(id string) (AgentConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ac, ok := c.Agents[id]
	return ac, ok
}

// SetAgent stores an agent config. The registry is the only caller.
func (c *Config) SetAgent(id string, ac AgentConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Agents == nil {
		c.Agents = make(map[string]AgentConfig)
	}
	c.Agents[id] = ac
}

// RemoveAgent drops an agent's config record. Documents on disk are kept.
func (c *Config) RemoveAgent(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Agents, id)
}

// AgentIDs returns the configured agent ids.
func (c *Config) AgentIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.Agents))
	for id := range c.Agents {
		ids = append(ids, id)
	}
	return ids
}

// ResolveDefaultAgentID returns routing.defaultAgent or the fallback id.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Routing.DefaultAgent != "" {
		return c.Routing.DefaultAgent
	}
	return DefaultAgentID
}

// RouteAgent resolves the agent for an inbound (channel, peer) pair.
func (c *Config) RouteAgent(channel, peer string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.Routing.Rules {
		if r.Channel != channel {
			continue
		}
		if r.Peer == "" || r.Peer == peer {
			return r.AgentID
		}
	}
	if c.Routing.DefaultAgent != "" {
		return c.Routing.DefaultAgent
	}
	return DefaultAgentID
}

// BrowserSnapshot returns a copy of the browser section.
func (c *Config) BrowserSnapshot() BrowserConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Browser
}

// CLISnapshot returns a copy of the cli section.
func (c *Config) CLISnapshot() CLIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.CLI
}

// TelemetrySnapshot returns a copy of the telemetry section.
func (c *Config) TelemetrySnapshot() TelemetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Telemetry
}

// SkillsSnapshot returns a copy of the skills section.
func (c *Config) SkillsSnapshot() SkillsConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Skills
}

// TasksMaxConcurrent returns the worker pool bound for the task queue.
func (c *Config) TasksMaxConcurrent() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Tasks.MaxConcurrent > 0 {
		return c.Tasks.MaxConcurrent
	}
	return 4
}
