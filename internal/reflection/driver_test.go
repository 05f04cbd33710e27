package reflection

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cladehq/clade/internal/agents"
	"github.com/cladehq/clade/internal/cli"
	"github.com/cladehq/clade/internal/config"
)

type scriptedInvoker struct {
	mu    sync.Mutex
	text  string
	calls int
	block chan struct{} // when set, Run waits on it
}

func (s *scriptedInvoker) Run(ctx context.Context, opts cli.Options) (cli.Result, error) {
	s.mu.Lock()
	s.calls++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return cli.Result{Text: s.text}, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestDriver(t *testing.T, inv *scriptedInvoker, interval int) (*Driver, *agents.Registry, config.Home) {
	t.Helper()
	home := config.HomeAt(t.TempDir())
	cfg := config.Default()
	reg := agents.NewRegistry(home, cfg, nil, nil)
	if _, err := reg.Register("main", config.AgentConfig{
		Name:       "Main",
		Reflection: config.ReflectConfig{Enabled: true, Interval: interval},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.WriteSoul("main", "I am v1."); err != nil {
		t.Fatal(err)
	}
	return NewDriver(reg, inv, home, nil), reg, home
}

func TestReflectionFiresAtInterval(t *testing.T) {
	inv := &scriptedInvoker{text: "I am v2."}
	d, reg, home := newTestDriver(t, inv, 3)

	d.AfterTurn("main")
	d.AfterTurn("main")
	if inv.callCount() != 0 {
		t.Fatal("reflection fired before the interval")
	}
	d.AfterTurn("main")
	if inv.callCount() != 1 {
		t.Fatalf("reflection calls = %d, want 1", inv.callCount())
	}

	soul, err := reg.ReadSoul("main")
	if err != nil {
		t.Fatal(err)
	}
	if soul != "I am v2.\n" {
		t.Fatalf("soul = %q", soul)
	}

	snap := filepath.Join(home.SoulHistoryDir("main"), time.Now().Format("2006-01-02")+".md")
	b, err := os.ReadFile(snap)
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if string(b) != "I am v1." {
		t.Fatalf("snapshot = %q", b)
	}

	if d.Counter("main") != 0 {
		t.Fatal("counter not reset after reflection")
	}
}

func TestEmptyRevisionKeepsSoul(t *testing.T) {
	inv := &scriptedInvoker{text: "   \n"}
	d, reg, home := newTestDriver(t, inv, 1)

	d.AfterTurn("main")
	if inv.callCount() != 1 {
		t.Fatalf("calls = %d", inv.callCount())
	}
	soul, _ := reg.ReadSoul("main")
	if soul != "I am v1." {
		t.Fatalf("soul changed on empty revision: %q", soul)
	}
	snap := filepath.Join(home.SoulHistoryDir("main"), time.Now().Format("2006-01-02")+".md")
	if _, err := os.Stat(snap); !os.IsNotExist(err) {
		t.Fatal("snapshot written for empty revision")
	}
}

func TestReflectionDisabled(t *testing.T) {
	inv := &scriptedInvoker{text: "v2"}
	home := config.HomeAt(t.TempDir())
	cfg := config.Default()
	reg := agents.NewRegistry(home, cfg, nil, nil)
	if _, err := reg.Register("main", config.AgentConfig{Name: "Main"}); err != nil {
		t.Fatal(err)
	}
	d := NewDriver(reg, inv, home, nil)

	for i := 0; i < 20; i++ {
		d.AfterTurn("main")
	}
	if inv.callCount() != 0 {
		t.Fatal("reflection ran while disabled")
	}
}

func TestSingleFlightPerAgent(t *testing.T) {
	inv := &scriptedInvoker{text: "v2", block: make(chan struct{})}
	d, _, _ := newTestDriver(t, inv, 1)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		d.AfterTurn("main") // blocks inside Run
		close(done)
	}()
	<-started
	// Give the first reflection time to take the in-flight slot.
	deadline := time.Now().Add(2 * time.Second)
	for inv.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first reflection never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Concurrent completions are dropped, not queued.
	d.AfterTurn("main")
	d.AfterTurn("main")
	if inv.callCount() != 1 {
		t.Fatalf("calls = %d, want 1 while in flight", inv.callCount())
	}
	close(inv.block)
	<-done
}
