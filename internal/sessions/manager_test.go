package sessions

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
	"github.com/cladehq/clade/internal/store"
	"github.com/cladehq/clade/internal/tools"
)

// fakeInvoker plays back scripted results and records the options it saw.
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []cli.Options
	results []cli.Result
	err     error
}

func (f *fakeInvoker) Run(ctx context.Context, opts cli.Options) (cli.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return cli.Result{}, f.err
	}
	if len(f.results) == 0 {
		return cli.Result{Text: "ok", SessionID: "cli-sess-1", DurationMS: 10}, nil
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res, nil
}

func (f *fakeInvoker) lastCall(t *testing.T) cli.Options {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("invoker never called")
	}
	return f.calls[len(f.calls)-1]
}

func newTestManager(t *testing.T, invoker Invoker) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	home := config.HomeAt(dir)
	cfg := config.Default()
	reg := agents.NewRegistry(home, cfg, nil, nil)
	if _, err := reg.Register("main", config.AgentConfig{Name: "Main", Preset: config.PresetCoding}); err != nil {
		t.Fatalf("register: %v", err)
	}
	builder := tools.NewBuilder(home, "/tmp/ipc-test.sock", "/usr/local/bin/clade", nil)
	return NewManager(st, reg, cfg, builder, invoker, nil, nil), st
}

func TestSendMessageCreatesSession(t *testing.T) {
	inv := &fakeInvoker{}
	m, st := newTestManager(t, inv)
	ctx := context.Background()

	reply, err := m.SendMessage(ctx, "main", "hello", "telegram", "u1", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.SessionID != "cli-sess-1" || reply.Text != "ok" {
		t.Fatalf("reply = %+v", reply)
	}

	sess, err := st.GetSession(ctx, "cli-sess-1")
	if err != nil {
		t.Fatalf("session row not created: %v", err)
	}
	if sess.AgentID != "main" || sess.Channel != "telegram" || sess.ChannelUserID != "u1" {
		t.Fatalf("session row = %+v", sess)
	}
	if inv.lastCall(t).ResumeSessionID != "" {
		t.Fatal("first turn must not resume")
	}
}

func TestSendMessageResumesActiveSession(t *testing.T) {
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, inv)
	ctx := context.Background()

	if _, err := m.SendMessage(ctx, "main", "first", "telegram", "u1", ""); err != nil {
		t.Fatalf("first send: %v", err)
	}
	reply, err := m.SendMessage(ctx, "main", "second", "telegram", "u1", "")
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if inv.lastCall(t).ResumeSessionID != "cli-sess-1" {
		t.Fatalf("second turn did not resume: %+v", inv.lastCall(t))
	}
	if reply.SessionID != "cli-sess-1" {
		t.Fatalf("reply session = %s", reply.SessionID)
	}
}

func TestSendMessageGeneratesIDWhenCLIOmitsIt(t *testing.T) {
	inv := &fakeInvoker{results: []cli.Result{{Text: "ok"}}}
	m, st := newTestManager(t, inv)
	ctx := context.Background()

	reply, err := m.SendMessage(ctx, "main", "hello", "", "", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.SessionID == "" {
		t.Fatal("no session id generated")
	}
	if _, err := st.GetSession(ctx, reply.SessionID); err != nil {
		t.Fatalf("generated session not stored: %v", err)
	}
}

func TestSendMessageFailureCreatesNoSession(t *testing.T) {
	inv := &fakeInvoker{err: errors.New("cli exploded")}
	m, st := newTestManager(t, inv)
	ctx := context.Background()

	if _, err := m.SendMessage(ctx, "main", "hello", "telegram", "u1", ""); err == nil {
		t.Fatal("expected error")
	}
	rows, err := st.ListSessions(ctx, store.SessionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("session rows created on failure: %+v", rows)
	}
}

func TestSendMessageUnknownAgent(t *testing.T) {
	m, _ := newTestManager(t, &fakeInvoker{})
	_, err := m.SendMessage(context.Background(), "ghost", "hi", "", "", "")
	if !errors.Is(err, agents.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestResumeSession(t *testing.T) {
	inv := &fakeInvoker{}
	m, st := newTestManager(t, inv)
	ctx := context.Background()

	if err := st.CreateSession(ctx, store.Session{ID: "pinned", AgentID: "main", Channel: "telegram", ChannelUserID: "u1"}); err != nil {
		t.Fatal(err)
	}

	// Even when the CLI echoes a different id, the row stays pinned.
	inv.results = []cli.Result{{Text: "ok", SessionID: "other-id"}}
	reply, err := m.ResumeSession(ctx, "pinned", "continue")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if reply.SessionID != "pinned" {
		t.Fatalf("reply session = %s, want pinned", reply.SessionID)
	}
	if inv.lastCall(t).ResumeSessionID != "pinned" {
		t.Fatalf("resume id = %s", inv.lastCall(t).ResumeSessionID)
	}

	if _, err := m.ResumeSession(ctx, "missing", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestSendMessagePassesComposedOptions(t *testing.T) {
	inv := &fakeInvoker{}
	m, _ := newTestManager(t, inv)

	if _, err := m.SendMessage(context.Background(), "main", "hi", "", "", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	opts := inv.lastCall(t)
	if opts.Prompt != "hi" {
		t.Fatalf("prompt = %q", opts.Prompt)
	}
	if opts.MCPConfigPath == "" || opts.SystemPromptFile == "" {
		t.Fatalf("temp files not wired: %+v", opts)
	}
	want := []string{"mcp__memory", "mcp__sessions", "mcp__skills"}
	if len(opts.AllowedTools) != len(want) {
		t.Fatalf("allowed tools = %v, want %v", opts.AllowedTools, want)
	}
}
