// Package mcpserver implements the `tool-server <name>` subcommand:
// an MCP stdio server the external CLI spawns per manifest entry.
// Every tool forwards to the host over the IPC socket the host put in
// the child environment.
package mcpserver

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/cladehq/clade/pkg/ipc"
)

// Serve runs one named tool server on stdio until the CLI closes it.
func Serve(name, version string) error {
	srv := server.NewMCPServer("clade-"+name, version, server.WithToolCapabilities(false))

	switch name {
	case "memory":
		registerMemoryTools(srv)
	case "sessions":
		registerSessionTools(srv)
	case "messaging":
		registerMessagingTools(srv)
	case "skills":
		registerSkillTools(srv)
	case "admin":
		registerAdminTools(srv)
	case "browser":
		if err := registerBrowserTools(srv); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown tool server %q", name)
	}

	return server.ServeStdio(srv)
}

// agentID is the identity the host injected for this invocation.
func agentID() string { return os.Getenv("CLADE_AGENT_ID") }

// hostCall sends one request to the host. The socket is re-dialed per
// call to match the one-request-per-connection protocol.
func hostCall(req ipc.Request) (ipc.Response, error) {
	client, err := ipc.Dial()
	if err != nil {
		return ipc.Response{}, fmt.Errorf("host unreachable: %w", err)
	}
	return client.Call(req)
}
