// Package ipc serves the host side of the unix-socket protocol in
// pkg/ipc: tool servers and skills running as children of a CLI
// invocation call back into the host through it.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/memory"
	"github.com/cladehq/clade/internal/sessions"
	"github.com/cladehq/clade/internal/store"
	"github.com/cladehq/clade/internal/tasks"
	"github.com/cladehq/clade/internal/tools"
	"github.com/cladehq/clade/pkg/ipc"
)

const (
	// connTimeout bounds one request from the server's side; the client
	// gives up at the same horizon.
	connTimeout = 120 * time.Second

	defaultSearchLimit = 8

	// spawnRate throttles sessions.spawn per agent: a runaway child
	// cannot fork the host into the ground.
	spawnRate  = rate.Limit(1)
	spawnBurst = 5
)

// Deliverer posts text to an outbound channel adapter.
type Deliverer interface {
	Deliver(ctx context.Context, channel, target, text string) error
}

// Server accepts one JSON request per connection on the host socket.
type Server struct {
	socketPath string
	manager    *sessions.Manager
	registry   *agents.Registry
	store      *store.Store
	tasks      *tasks.Queue
	memory     *memory.Indexer
	deliver    Deliverer
	log        *slog.Logger

	mu     sync.Mutex
	spawns map[string]*rate.Limiter

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer wires the IPC server. memory may be nil when indexing is
// disabled.
func NewServer(socketPath string, m *sessions.Manager, reg *agents.Registry, st *store.Store, tq *tasks.Queue, idx *memory.Indexer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		manager:    m,
		registry:   reg,
		store:      st,
		tasks:      tq,
		memory:     idx,
		log:        log,
		spawns:     map[string]*rate.Limiter{},
	}
}

// SetDeliverer installs the outbound channel surface backing
// message.send. Without one the method reports an error.
func (s *Server) SetDeliverer(d Deliverer) { s.deliver = d }

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string { return s.socketPath }

// Start binds the socket and begins accepting. A stale socket file from
// a dead host is removed first.
func (s *Server) Start() error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("ipc listen: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("ipc socket perms: %w", err)
	}
	s.ln = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.accept(ctx)
	}()
	s.log.Info("ipc listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener, waits for in-flight requests, and removes
// the socket file.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.ln != nil {
		s.ln.Close()
	}
	s.wg.Wait()
	_ = os.Remove(s.socketPath)
}

func (s *Server) accept(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.log.Warn("ipc accept failed", "error", err)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn handles one request/reply exchange. Malformed input gets an
// ok:false reply; nothing a client sends may crash the host.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("ipc handler panicked", "panic", r)
		}
	}()
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	var req ipc.Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.reply(conn, ipc.Response{Error: fmt.Sprintf("malformed request: %v", err)})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, connTimeout)
	defer cancel()
	s.reply(conn, s.handle(ctx, req))
}

func (s *Server) reply(conn net.Conn, resp ipc.Response) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Debug("ipc reply failed", "error", err)
	}
}

func (s *Server) handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Type {
	case ipc.TypeSessionsList:
		return s.sessionsList(ctx)
	case ipc.TypeSessionsSpawn:
		return s.sessionsSpawn(ctx, req)
	case ipc.TypeSessionsSend:
		return s.sessionsSend(ctx, req)
	case ipc.TypeSessionsStatus:
		return s.sessionsStatus(ctx, req)
	case ipc.TypeSessionsTerminate:
		return s.sessionsTerminate(ctx, req)
	case ipc.TypeAgentsList:
		return s.agentsList()
	case ipc.TypeAgentsDescribe:
		return s.agentsDescribe(req)
	case ipc.TypeTaskSchedule:
		return s.taskSchedule(ctx, req)
	case ipc.TypeTaskCancel:
		return s.taskCancel(ctx, req)
	case ipc.TypeTaskList:
		return s.taskList(ctx, req)
	case ipc.TypeMemorySearch:
		return s.memorySearch(ctx, req)
	case ipc.TypeMessageSend:
		return s.messageSend(ctx, req)
	default:
		return fail("unknown type: %s", req.Type)
	}
}

func (s *Server) sessionsList(ctx context.Context) ipc.Response {
	rows, err := s.store.ListSessions(ctx, store.SessionFilter{Status: store.SessionActive})
	if err != nil {
		return fail("list sessions: %v", err)
	}
	out := make([]ipc.SessionInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, ipc.SessionInfo{
			ID:         r.ID,
			AgentID:    r.AgentID,
			Channel:    r.Channel,
			Status:     string(r.Status),
			CreatedAt:  r.CreatedAt,
			LastActive: r.LastActiveAt,
		})
	}
	return ipc.Response{OK: true, Sessions: out}
}

// sessionsSpawn starts a turn for another agent. The (channel, chat)
// tuple keys the conversation to the spawning session, so repeated
// spawns from one parent resume the same child.
func (s *Server) sessionsSpawn(ctx context.Context, req ipc.Request) ipc.Response {
	if req.AgentID == "" || req.Prompt == "" {
		return fail("agentId and prompt are required")
	}
	if !s.registry.Has(req.AgentID) {
		return fail("unknown agent: %s", req.AgentID)
	}
	if !s.spawnLimiter(req.AgentID).Allow() {
		return fail("spawn rate exceeded for agent %s", req.AgentID)
	}

	reply, err := s.manager.SendMessage(ctx, req.AgentID, req.Prompt, "agent", req.CallingAgentID, req.ParentSessionID)
	if err != nil {
		return fail("spawn: %v", err)
	}
	return ipc.Response{OK: true, SessionID: reply.SessionID, Reply: reply.Text}
}

func (s *Server) sessionsSend(ctx context.Context, req ipc.Request) ipc.Response {
	if req.SessionID == "" || req.Message == "" {
		return fail("sessionId and message are required")
	}
	reply, err := s.manager.ResumeSession(ctx, req.SessionID, req.Message)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return fail("unknown session: %s", req.SessionID)
	}
	if err != nil {
		return fail("send: %v", err)
	}
	return ipc.Response{OK: true, Reply: reply.Text, SessionID: reply.SessionID}
}

func (s *Server) sessionsStatus(ctx context.Context, req ipc.Request) ipc.Response {
	if req.SessionID == "" {
		return fail("sessionId is required")
	}
	sess, err := s.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return fail("unknown session: %s", req.SessionID)
	}
	if err != nil {
		return fail("session status: %v", err)
	}
	return ipc.Response{
		OK:         true,
		Status:     string(sess.Status),
		AgentID:    sess.AgentID,
		Channel:    sess.Channel,
		CreatedAt:  sess.CreatedAt,
		LastActive: sess.LastActiveAt,
	}
}

func (s *Server) sessionsTerminate(ctx context.Context, req ipc.Request) ipc.Response {
	if req.SessionID == "" {
		return fail("sessionId is required")
	}
	err := s.manager.Terminate(ctx, req.SessionID)
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return fail("unknown session: %s", req.SessionID)
	}
	if err != nil {
		return fail("terminate session: %v", err)
	}
	return ipc.Response{OK: true, SessionID: req.SessionID, Status: string(store.SessionTerminated)}
}

func (s *Server) agentsList() ipc.Response {
	list := s.registry.List()
	out := make([]ipc.AgentInfo, 0, len(list))
	for _, a := range list {
		out = append(out, agentInfo(a))
	}
	return ipc.Response{OK: true, Agents: out}
}

func (s *Server) agentsDescribe(req ipc.Request) ipc.Response {
	if req.AgentID == "" {
		return fail("agentId is required")
	}
	agent, ok := s.registry.TryGet(req.AgentID)
	if !ok {
		return fail("unknown agent: %s", req.AgentID)
	}
	info := agentInfo(agent)
	return ipc.Response{OK: true, Agent: &info}
}

func (s *Server) taskSchedule(ctx context.Context, req ipc.Request) ipc.Response {
	if !s.registry.Has(req.AgentID) {
		return fail("unknown agent: %s", req.AgentID)
	}
	task, err := s.tasks.Schedule(ctx, req.AgentID, req.SessionID, req.Prompt, req.Description, req.DelayMinutes)
	if errors.Is(err, tasks.ErrValidation) {
		return fail("%v", err)
	}
	if err != nil {
		return fail("schedule: %v", err)
	}
	return ipc.Response{OK: true, TaskID: task.ID, ExecuteAt: task.ExecuteAt}
}

func (s *Server) taskCancel(ctx context.Context, req ipc.Request) ipc.Response {
	if req.TaskID == "" {
		return fail("taskId is required")
	}
	err := s.tasks.Cancel(ctx, req.TaskID, req.AgentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fail("unknown task: %s", req.TaskID)
	case errors.Is(err, tasks.ErrForbidden):
		return fail("task %s is not owned by %s", req.TaskID, req.AgentID)
	case errors.Is(err, store.ErrInvalidState):
		return fail("task %s is not pending", req.TaskID)
	case err != nil:
		return fail("cancel: %v", err)
	}
	return ipc.Response{OK: true}
}

func (s *Server) taskList(ctx context.Context, req ipc.Request) ipc.Response {
	rows, err := s.tasks.List(ctx, req.AgentID)
	if err != nil {
		return fail("list tasks: %v", err)
	}
	out := make([]ipc.TaskInfo, 0, len(rows))
	for _, t := range rows {
		out = append(out, ipc.TaskInfo{
			ID:          t.ID,
			AgentID:     t.AgentID,
			SessionID:   t.SessionID,
			Prompt:      t.Prompt,
			Description: t.Description,
			ExecuteAt:   t.ExecuteAt,
			Status:      string(t.Status),
			Error:       t.Error,
		})
	}
	return ipc.Response{OK: true, Tasks: out}
}

func (s *Server) memorySearch(ctx context.Context, req ipc.Request) ipc.Response {
	if s.memory == nil {
		return fail("memory index disabled")
	}
	if req.AgentID == "" || req.Query == "" {
		return fail("agentId and query are required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := s.memory.Search(ctx, req.AgentID, req.Query, limit)
	if err != nil {
		return fail("search: %v", err)
	}
	out := make([]ipc.MemoryHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, ipc.MemoryHit{
			FilePath: h.FilePath,
			Start:    h.Start,
			End:      h.End,
			Text:     h.Text,
			Rank:     h.Rank,
		})
	}
	return ipc.Response{OK: true, Hits: out}
}

func (s *Server) messageSend(ctx context.Context, req ipc.Request) ipc.Response {
	if s.deliver == nil {
		return fail("no outbound channels configured")
	}
	if req.Channel == "" || req.Target == "" || req.Text == "" {
		return fail("channel, target and text are required")
	}
	if err := s.deliver.Deliver(ctx, req.Channel, req.Target, req.Text); err != nil {
		return fail("deliver: %v", err)
	}
	return ipc.Response{OK: true}
}

func (s *Server) spawnLimiter(agentID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.spawns[agentID]
	if !ok {
		l = rate.NewLimiter(spawnRate, spawnBurst)
		s.spawns[agentID] = l
	}
	return l
}

func agentInfo(a agents.Agent) ipc.AgentInfo {
	return ipc.AgentInfo{
		ID:          a.ID,
		Name:        a.Config.Name,
		Description: a.Config.Description,
		Preset:      string(a.Config.Preset),
		Servers:     tools.PresetServers(a.Config.Preset),
	}
}

func fail(format string, args ...any) ipc.Response {
	return ipc.Response{Error: fmt.Sprintf(format, args...)}
}
