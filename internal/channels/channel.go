// Package channels is the boundary to messaging adapters. Adapters are
// external collaborators: the host only knows the Channel interface,
// routes their inbound messages to agents, and hands them outbound text.
package channels

import "context"

// Internal channel names originate inside the host and never map to an
// outbound adapter.
var internalChannels = map[string]bool{
	"cli":       true,
	"cron":      true,
	"taskqueue": true,
	"heartbeat": true,
	"agent":     true,
	"system":    true,
}

// IsInternal reports whether a channel name is host-internal.
func IsInternal(name string) bool { return internalChannels[name] }

// Channel is one messaging adapter. Start must return once listening;
// inbound messages are handed to the sink passed at registration.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// Send posts text to a user or chat on the platform.
	Send(ctx context.Context, target, text string) error
}

// Inbound is one message received by an adapter.
type Inbound struct {
	Channel string
	UserID  string
	ChatID  string
	Text    string
}

// InboundSink receives adapter messages. *Manager satisfies it.
type InboundSink interface {
	HandleInbound(ctx context.Context, msg Inbound)
}
