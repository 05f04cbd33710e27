package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
	"github.com/cladehq/clade/internal/tools"
	"github.com/cladehq/clade/internal/tracing"
)

// ErrSessionNotFound reports an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// Reply is the outcome of one turn.
type Reply struct {
	Text       string
	SessionID  string
	DurationMS int64
}

// Invoker runs one CLI invocation. *cli.Runner satisfies it; tests
// substitute a fake.
type Invoker interface {
	Run(ctx context.Context, opts cli.Options) (cli.Result, error)
}

// Reflector is notified after every successful turn. The manager fires
// it without awaiting; implementations own their errors.
type Reflector interface {
	AfterTurn(agentID string)
}

// Manager dispatches turns: per-key FIFO serialization, session row
// bookkeeping, prompt and manifest assembly around the CLI boundary.
type Manager struct {
	store     *store.Store
	registry  *agents.Registry
	cfg       *config.Config
	builder   *tools.Builder
	invoker   Invoker
	queue     *keyQueue
	reflector Reflector
	log       *slog.Logger
}

// NewManager wires a session manager. reflector may be nil.
func NewManager(st *store.Store, reg *agents.Registry, cfg *config.Config, builder *tools.Builder, invoker Invoker, reflector Reflector, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		store:     st,
		registry:  reg,
		cfg:       cfg,
		builder:   builder,
		invoker:   invoker,
		queue:     newKeyQueue(0, log),
		reflector: reflector,
		log:       log,
	}
}

// SetReflector installs the reflection driver after construction. The
// driver needs the manager to run meta-invocations, so the two are wired
// in two steps.
func (m *Manager) SetReflector(r Reflector) { m.reflector = r }

// SendMessage runs one turn for an agent. Calls sharing a session key
// are strictly ordered; calls on distinct keys run in parallel.
func (m *Manager) SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (Reply, error) {
	key := SessionKey(agentID, channel, userID, chatID)

	var (
		reply Reply
		err   error
	)
	m.queue.Run(key, func() {
		reply, err = m.dispatch(ctx, agentID, prompt, channel, userID, chatID, "")
	})
	return reply, err
}

// ResumeSession runs one turn against a known session row.
func (m *Manager) ResumeSession(ctx context.Context, sessionID, prompt string) (Reply, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Reply{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
		}
		return Reply{}, err
	}
	key := SessionKey(sess.AgentID, sess.Channel, sess.ChannelUserID, sess.ChatID)

	var reply Reply
	m.queue.Run(key, func() {
		reply, err = m.dispatch(ctx, sess.AgentID, prompt, sess.Channel, sess.ChannelUserID, sess.ChatID, sess.ID)
	})
	return reply, err
}

// CreateRunner exposes the underlying invoker for one-off uses that need
// the raw CLI boundary (heartbeat probes, doctor checks).
func (m *Manager) CreateRunner() Invoker { return m.invoker }

// dispatch runs one serialized turn. forceResume pins the session id for
// ResumeSession; otherwise the active session for the tuple is looked up.
func (m *Manager) dispatch(ctx context.Context, agentID, prompt, channel, userID, chatID, forceResume string) (_ Reply, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "session.turn", trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("channel", channel),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	agent, ok := m.registry.TryGet(agentID)
	if !ok {
		return Reply{}, fmt.Errorf("agent %q: %w", agentID, agents.ErrAgentNotFound)
	}

	resumeID := forceResume
	if resumeID == "" {
		sess, err := m.findActive(ctx, agentID, channel, userID, chatID)
		switch {
		case err == nil:
			resumeID = sess.ID
		case errors.Is(err, store.ErrNotFound):
			// new conversation
		default:
			return Reply{}, err
		}
	}

	opts, cleanup, err := m.buildOptions(ctx, agent, prompt, resumeID)
	if err != nil {
		return Reply{}, err
	}
	defer cleanup()

	res, err := m.invoker.Run(ctx, opts)
	if err != nil {
		// No session bookkeeping on failure; the manifest is still removed.
		return Reply{}, err
	}

	if resumeID != "" {
		// The row stays pinned to its original id even when the CLI
		// echoes a different one.
		if err := m.store.TouchSession(ctx, resumeID); err != nil {
			m.log.Warn("touch session failed", "session_id", resumeID, "error", err)
		}
		res.SessionID = resumeID
	} else {
		id := res.SessionID
		if id == "" {
			id = uuid.NewString()
		}
		err := m.store.CreateSession(ctx, store.Session{
			ID:            id,
			AgentID:       agentID,
			Channel:       channel,
			ChannelUserID: userID,
			ChatID:        chatID,
		})
		if errors.Is(err, store.ErrConflict) {
			err = m.store.TouchSession(ctx, id)
		}
		if err != nil {
			m.log.Warn("record session failed", "session_id", id, "error", err)
		}
		res.SessionID = id
	}

	if m.reflector != nil {
		go m.reflector.AfterTurn(agentID)
	}

	return Reply{Text: res.Text, SessionID: res.SessionID, DurationMS: res.DurationMS}, nil
}

// findActive resolves the session row to resume: exact tuple match when
// the peer is known, otherwise the agent's most recently active session.
func (m *Manager) findActive(ctx context.Context, agentID, channel, userID, chatID string) (store.Session, error) {
	if channel != "" && userID != "" {
		return m.store.FindActiveSession(ctx, agentID, channel, userID, chatID)
	}
	return m.store.FindAnyActiveSession(ctx, agentID)
}

// buildOptions assembles the CLI options for one turn: composed system
// prompt in a private temp file, tool manifest, allowed tools. The
// returned cleanup removes both temp files best-effort.
func (m *Manager) buildOptions(ctx context.Context, agent agents.Agent, prompt, resumeID string) (cli.Options, func(), error) {
	systemPrompt, err := m.registry.BuildSystemPrompt(agent.ID)
	if err != nil {
		return cli.Options{}, nil, err
	}

	skills, err := m.agentSkills(ctx, agent)
	if err != nil {
		m.log.Warn("loading skills failed, continuing without", "agent", agent.ID, "error", err)
	}
	builder := m.builder
	if resumeID != "" {
		builder = builder.WithSession(resumeID)
	}
	manifest := builder.Resolve(agent, m.cfg.BrowserSnapshot(), skills)
	manifestPath, removeManifest, err := tools.WriteManifest(manifest)
	if err != nil {
		return cli.Options{}, nil, err
	}

	promptPath, removePrompt, err := writePromptFile(systemPrompt)
	if err != nil {
		removeManifest()
		return cli.Options{}, nil, err
	}

	opts := cli.Options{
		Prompt:           prompt,
		ResumeSessionID:  resumeID,
		SystemPrompt:     systemPrompt, // inline fallback
		SystemPromptFile: promptPath,
		MCPConfigPath:    manifestPath,
		AllowedTools:     tools.AllowedTools(agent, manifest),
		MaxTurns:         agent.Config.MaxTurns,
		Model:            agent.Config.Model,
	}
	return opts, func() { removeManifest(); removePrompt() }, nil
}

// agentSkills loads the store rows for the agent's assigned skill names.
func (m *Manager) agentSkills(ctx context.Context, agent agents.Agent) ([]store.Skill, error) {
	if len(agent.Config.Skills) == 0 {
		return nil, nil
	}
	all, err := m.store.ListSkills(ctx, "")
	if err != nil {
		return nil, err
	}
	assigned := make(map[string]bool, len(agent.Config.Skills))
	for _, name := range agent.Config.Skills {
		assigned[name] = true
	}
	var out []store.Skill
	for _, sk := range all {
		if assigned[sk.Name] {
			out = append(out, sk)
		}
	}
	return out, nil
}

func writePromptFile(content string) (string, func(), error) {
	f, err := os.CreateTemp("", "clade-prompt-*.md")
	if err != nil {
		return "", nil, fmt.Errorf("prompt temp file: %w", err)
	}
	if err := f.Chmod(0600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", nil, fmt.Errorf("write prompt file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", nil, err
	}
	name := f.Name()
	return name, func() { os.Remove(name) }, nil
}

// Terminate marks a session terminated. Operator surface via IPC.
func (m *Manager) Terminate(ctx context.Context, sessionID string) error {
	err := m.store.UpdateSessionStatus(ctx, sessionID, store.SessionTerminated)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	return err
}
