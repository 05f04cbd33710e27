package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cladehq/clade/pkg/ipc"
)

func registerMemoryTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Search your long-term memory and daily activity logs. Returns the best-matching excerpts."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Full-text query, plain words")),
		mcp.WithNumber("limit", mcp.Description("Maximum excerpts to return (default 8)")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{
			Type:    ipc.TypeMemorySearch,
			AgentID: agentID(),
			Query:   query,
			Limit:   req.GetInt("limit", 0),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(resp.Hits) == 0 {
			return mcp.NewToolResultText("No matches."), nil
		}
		var b strings.Builder
		for _, h := range resp.Hits {
			fmt.Fprintf(&b, "--- %s [%d:%d] ---\n%s\n\n", h.FilePath, h.Start, h.End, h.Text)
		}
		return mcp.NewToolResultText(b.String()), nil
	})
}

func registerSessionTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("sessions_list",
		mcp.WithDescription("List currently active sessions across all agents."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := hostCall(ipc.Request{Type: ipc.TypeSessionsList})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp.Sessions)
	})

	srv.AddTool(mcp.NewTool("session_spawn",
		mcp.WithDescription("Start a conversation with another agent and get its reply."),
		mcp.WithString("agentId", mcp.Required(), mcp.Description("Target agent id")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Message for the target agent")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		target, err := req.RequireString("agentId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{
			Type:            ipc.TypeSessionsSpawn,
			AgentID:         target,
			Prompt:          prompt,
			CallingAgentID:  agentID(),
			ParentSessionID: os.Getenv("CLADE_SESSION_ID"),
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("session %s replied:\n%s", resp.SessionID, resp.Reply)), nil
	})

	srv.AddTool(mcp.NewTool("session_send",
		mcp.WithDescription("Post a follow-up message to an existing session."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session id returned by session_spawn or sessions_list")),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message text")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("sessionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{Type: ipc.TypeSessionsSend, SessionID: sessionID, Message: message})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(resp.Reply), nil
	})

	srv.AddTool(mcp.NewTool("session_status",
		mcp.WithDescription("Show status, agent and activity times for one session."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("sessionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{Type: ipc.TypeSessionsStatus, SessionID: sessionID})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{
			"status":     resp.Status,
			"agentId":    resp.AgentID,
			"channel":    resp.Channel,
			"createdAt":  resp.CreatedAt,
			"lastActive": resp.LastActive,
		})
	})

	registerTaskTools(srv)
}

func registerTaskTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("task_schedule",
		mcp.WithDescription("Schedule a prompt to be sent to yourself later. Delay is in minutes, 0.5 to 43200."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Prompt to deliver when the task fires")),
		mcp.WithString("description", mcp.Description("Short human-readable label")),
		mcp.WithNumber("delayMinutes", mcp.Required(), mcp.Description("Minutes from now, 0.5 to 43200")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		delay, err := req.RequireFloat("delayMinutes")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{
			Type:         ipc.TypeTaskSchedule,
			AgentID:      agentID(),
			SessionID:    os.Getenv("CLADE_SESSION_ID"),
			Prompt:       prompt,
			Description:  req.GetString("description", ""),
			DelayMinutes: delay,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("task %s scheduled for %s", resp.TaskID, resp.ExecuteAt.Format("2006-01-02 15:04:05"))), nil
	})

	srv.AddTool(mcp.NewTool("task_cancel",
		mcp.WithDescription("Cancel one of your pending tasks."),
		mcp.WithString("taskId", mcp.Required(), mcp.Description("Task id from task_schedule or task_list")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := req.RequireString("taskId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := hostCall(ipc.Request{Type: ipc.TypeTaskCancel, TaskID: taskID, AgentID: agentID()}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("cancelled"), nil
	})

	srv.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List your scheduled tasks, most recent first."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := hostCall(ipc.Request{Type: ipc.TypeTaskList, AgentID: agentID()})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp.Tasks)
	})
}

func registerMessagingTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("message_send",
		mcp.WithDescription("Send a message to a user or chat on an outbound channel."),
		mcp.WithString("channel", mcp.Required(), mcp.Description("Channel name, e.g. telegram")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Recipient user or chat id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		channel, err := req.RequireString("channel")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		target, err := req.RequireString("target")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := hostCall(ipc.Request{Type: ipc.TypeMessageSend, Channel: channel, Target: target, Text: text}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("sent"), nil
	})
}

func registerAdminTools(srv *server.MCPServer) {
	srv.AddTool(mcp.NewTool("agents_list",
		mcp.WithDescription("List every registered agent with its preset and tool servers."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := hostCall(ipc.Request{Type: ipc.TypeAgentsList})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp.Agents)
	})

	srv.AddTool(mcp.NewTool("agent_describe",
		mcp.WithDescription("Show one agent's configuration summary."),
		mcp.WithString("agentId", mcp.Required(), mcp.Description("Agent id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("agentId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		resp, err := hostCall(ipc.Request{Type: ipc.TypeAgentsDescribe, AgentID: id})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(resp.Agent)
	})

	srv.AddTool(mcp.NewTool("session_terminate",
		mcp.WithDescription("Terminate a session. The row is kept; the conversation stops resuming."),
		mcp.WithString("sessionId", mcp.Required(), mcp.Description("Session id")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("sessionId")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := hostCall(ipc.Request{Type: ipc.TypeSessionsTerminate, SessionID: id}); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText("session " + id + " terminated"), nil
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
