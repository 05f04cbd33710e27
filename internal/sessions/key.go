// Package sessions serializes conversations with the external CLI.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{channel}:{chatId}   group chats
//	agent:{agentId}:{channel}:{userId}   direct messages
//	agent:{agentId}:cli                  CLI and internal drivers
//
// Examples:
//
//	agent:main:telegram:-100123456
//	agent:main:telegram:386246614
//	agent:main:cli
package sessions

import "fmt"

// SessionKey derives the serialization key for a message. Group chats
// serialize per chat, direct messages per user, everything else per
// agent.
func SessionKey(agentID, channel, userID, chatID string) string {
	switch {
	case channel != "" && chatID != "":
		return fmt.Sprintf("agent:%s:%s:%s", agentID, channel, chatID)
	case channel != "" && userID != "":
		return fmt.Sprintf("agent:%s:%s:%s", agentID, channel, userID)
	default:
		return fmt.Sprintf("agent:%s:cli", agentID)
	}
}
