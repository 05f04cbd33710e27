// Package ipc defines the wire protocol the clade host exposes on its
// unix socket, plus the client used by child processes (tool servers,
// skills) to call back into the host.
//
// Framing is one JSON request and one JSON reply per connection; the
// server closes the connection after replying. Every reply carries ok,
// and failures carry error.
package ipc

import "time"

// Request type constants.
const (
	// Sessions
	TypeSessionsList      = "sessions.list"
	TypeSessionsSpawn     = "sessions.spawn"
	TypeSessionsSend      = "sessions.send"
	TypeSessionsStatus    = "sessions.status"
	TypeSessionsTerminate = "sessions.terminate"

	// Agents
	TypeAgentsList     = "agents.list"
	TypeAgentsDescribe = "agents.describe"

	// Task queue
	TypeTaskSchedule = "taskqueue.schedule"
	TypeTaskCancel   = "taskqueue.cancel"
	TypeTaskList     = "taskqueue.list"

	// Memory
	TypeMemorySearch = "memory.search"

	// Messaging
	TypeMessageSend = "message.send"
)

// Request is the flat union of every request shape, discriminated by
// Type. Unknown types are rejected by the server.
type Request struct {
	Type string `json:"type"`

	AgentID         string  `json:"agentId,omitempty"`
	SessionID       string  `json:"sessionId,omitempty"`
	ParentSessionID string  `json:"parentSessionId,omitempty"`
	CallingAgentID  string  `json:"callingAgentId,omitempty"`
	Prompt          string  `json:"prompt,omitempty"`
	Message         string  `json:"message,omitempty"`
	Description     string  `json:"description,omitempty"`
	DelayMinutes    float64 `json:"delayMinutes,omitempty"`
	TaskID          string  `json:"taskId,omitempty"`
	Query           string  `json:"query,omitempty"`
	Limit           int     `json:"limit,omitempty"`
	Channel         string  `json:"channel,omitempty"`
	Target          string  `json:"target,omitempty"`
	Text            string  `json:"text,omitempty"`
}

// Response is the flat union of every reply shape. OK is always set;
// exactly the fields of the request's type are populated.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Sessions   []SessionInfo `json:"sessions,omitempty"`
	SessionID  string        `json:"sessionId,omitempty"`
	Reply      string        `json:"response,omitempty"`
	Status     string        `json:"status,omitempty"`
	AgentID    string        `json:"agentId,omitempty"`
	Channel    string        `json:"channel,omitempty"`
	CreatedAt  time.Time     `json:"createdAt,omitzero"`
	LastActive time.Time     `json:"lastActive,omitzero"`
	Agents     []AgentInfo   `json:"agents,omitempty"`
	Agent      *AgentInfo    `json:"agent,omitempty"`
	TaskID     string        `json:"taskId,omitempty"`
	ExecuteAt  time.Time     `json:"executeAt,omitzero"`
	Tasks      []TaskInfo    `json:"tasks,omitempty"`
	Hits       []MemoryHit   `json:"hits,omitempty"`
}

// SessionInfo is one row in sessions.list.
type SessionInfo struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agentId"`
	Channel    string    `json:"channel,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
}

// AgentInfo is one entry in agents.list / agents.describe.
type AgentInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Preset      string   `json:"preset,omitempty"`
	Servers     []string `json:"servers,omitempty"`
}

// TaskInfo is one entry in taskqueue.list.
type TaskInfo struct {
	ID          string    `json:"id"`
	AgentID     string    `json:"agentId"`
	SessionID   string    `json:"sessionId,omitempty"`
	Prompt      string    `json:"prompt"`
	Description string    `json:"description,omitempty"`
	ExecuteAt   time.Time `json:"executeAt"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// MemoryHit is one entry in memory.search, best match first.
type MemoryHit struct {
	FilePath string  `json:"filePath"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Text     string  `json:"text"`
	Rank     float64 `json:"rank"`
}
