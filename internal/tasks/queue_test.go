package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cladehq/clade/internal/sessions"
	"github.com/cladehq/clade/internal/store"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []sentCall
	err   error
}

type sentCall struct {
	agentID, prompt, channel, userID, chatID string
}

func (r *recordingSender) SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sentCall{agentID, prompt, channel, userID, chatID})
	return sessions.Reply{Text: "done"}, r.err
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestQueue(t *testing.T, sender Sender) (*Queue, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewQueue(st, sender, 4, nil), st
}

func TestScheduleBounds(t *testing.T) {
	q, _ := newTestQueue(t, &recordingSender{})
	ctx := context.Background()

	tests := []struct {
		delay   float64
		wantErr bool
	}{
		{0.4, true},
		{0.5, false},
		{43200, false},
		{43201, true},
		{-1, true},
	}
	for _, tt := range tests {
		_, err := q.Schedule(ctx, "main", "", "p", "d", tt.delay)
		if tt.wantErr && !errors.Is(err, ErrValidation) {
			t.Errorf("delay %g: err = %v, want ErrValidation", tt.delay, err)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("delay %g: %v", tt.delay, err)
		}
	}
}

func TestScheduleExecuteAt(t *testing.T) {
	q, _ := newTestQueue(t, &recordingSender{})
	before := time.Now()
	task, err := q.Schedule(context.Background(), "main", "", "p", "d", 10)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	want := before.Add(10 * time.Minute)
	if diff := task.ExecuteAt.Sub(want); diff < -time.Second || diff > time.Second {
		t.Fatalf("executeAt = %v, want ~%v", task.ExecuteAt, want)
	}
}

func TestCancelOwnerCrossCheck(t *testing.T) {
	q, _ := newTestQueue(t, &recordingSender{})
	ctx := context.Background()

	task, err := q.Schedule(ctx, "main", "", "p", "d", 60)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if err := q.Cancel(ctx, task.ID, "other"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("cross-agent cancel err = %v, want ErrForbidden", err)
	}
	if err := q.Cancel(ctx, task.ID, "main"); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	// Terminal state rejects a second cancel.
	if err := q.Cancel(ctx, task.ID, ""); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("double cancel err = %v, want ErrInvalidState", err)
	}
}

func TestRunDueExecutesAndRecords(t *testing.T) {
	sender := &recordingSender{}
	q, st := newTestQueue(t, sender)
	ctx := context.Background()

	due := store.Task{ID: "t1", AgentID: "main", SessionID: "sess-9", Prompt: "do it", Description: "d", ExecuteAt: time.Now().Add(-time.Minute)}
	future := store.Task{ID: "t2", AgentID: "main", Prompt: "later", Description: "d", ExecuteAt: time.Now().Add(time.Hour)}
	for _, task := range []store.Task{due, future} {
		if err := st.EnqueueTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}

	q.runDue(ctx)
	q.wg.Wait()

	if sender.count() != 1 {
		t.Fatalf("sender called %d times, want 1", sender.count())
	}
	call := sender.calls[0]
	if call.agentID != "main" || call.channel != "taskqueue" || call.userID != "main" || call.chatID != "sess-9" {
		t.Fatalf("call = %+v", call)
	}
	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got2, _ := st.GetTask(ctx, "t2"); got2.Status != store.TaskPending {
		t.Fatalf("future task status = %s, want pending", got2.Status)
	}
}

func TestRunDueRecordsFailure(t *testing.T) {
	sender := &recordingSender{err: errors.New("cli blew up")}
	q, st := newTestQueue(t, sender)
	ctx := context.Background()

	if err := st.EnqueueTask(ctx, store.Task{ID: "t1", AgentID: "main", Prompt: "p", Description: "d", ExecuteAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}
	q.runDue(ctx)
	q.wg.Wait()

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.TaskFailed || got.Error != "cli blew up" {
		t.Fatalf("task = %+v", got)
	}
}

func TestCancelledTaskNotExecuted(t *testing.T) {
	sender := &recordingSender{}
	q, st := newTestQueue(t, sender)
	ctx := context.Background()

	if err := st.EnqueueTask(ctx, store.Task{ID: "t1", AgentID: "main", Prompt: "p", Description: "d", ExecuteAt: time.Now().Add(-time.Second)}); err != nil {
		t.Fatal(err)
	}
	if err := st.CancelTask(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	q.runDue(ctx)
	q.wg.Wait()

	if sender.count() != 0 {
		t.Fatal("cancelled task was executed")
	}
}
