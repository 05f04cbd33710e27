// Package tools resolves the tool-server manifest one CLI invocation
// exposes to the child: preset built-ins, agent skills, admin and
// browser servers.
package tools

import "github.com/cladehq/clade/internal/config"

// Built-in tool server names. These are reserved: a user skill with the
// same name is silently discarded.
const (
	ServerMemory    = "memory"
	ServerSessions  = "sessions"
	ServerMessaging = "messaging"
	ServerSkills    = "skills"
	ServerAdmin     = "admin"
	ServerBrowser   = "browser"
)

var presetServers = map[config.ToolPreset][]string{
	config.PresetPotato:    {},
	config.PresetCoding:    {ServerMemory, ServerSessions, ServerSkills},
	config.PresetMessaging: {ServerMemory, ServerSessions, ServerMessaging, ServerSkills},
	config.PresetFull:      {ServerMemory, ServerSessions, ServerMessaging, ServerSkills},
	config.PresetCustom:    {},
}

// PresetServers returns the built-in servers for a preset. An unset
// preset behaves as full.
func PresetServers(p config.ToolPreset) []string {
	if p == "" {
		p = config.PresetFull
	}
	servers, ok := presetServers[p]
	if !ok {
		return nil
	}
	out := make([]string, len(servers))
	copy(out, servers)
	return out
}

// IsBuiltin reports whether name is a reserved built-in server name.
func IsBuiltin(name string) bool {
	switch name {
	case ServerMemory, ServerSessions, ServerMessaging, ServerSkills, ServerAdmin, ServerBrowser:
		return true
	}
	return false
}
