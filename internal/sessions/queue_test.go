package sessions

import (
	"sync"
	"testing"
	"time"
)

func TestSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		userID  string
		chatID  string
		want    string
	}{
		{name: "group chat", channel: "telegram", userID: "u1", chatID: "-100", want: "agent:main:telegram:-100"},
		{name: "direct message", channel: "telegram", userID: "u1", want: "agent:main:telegram:u1"},
		{name: "cli", want: "agent:main:cli"},
		{name: "chat without channel falls back to cli", chatID: "c1", want: "agent:main:cli"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SessionKey("main", tt.channel, tt.userID, tt.chatID); got != tt.want {
				t.Fatalf("key = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyQueueFIFO(t *testing.T) {
	q := newKeyQueue(time.Minute, nil)

	var (
		mu  sync.Mutex
		got []int
		wg  sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Run("k", func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			})
		}()
		// Stagger submissions so arrival order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestKeyQueueParallelAcrossKeys(t *testing.T) {
	q := newKeyQueue(time.Minute, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	go q.Run("a", func() {
		close(started)
		<-release
	})
	<-started

	// A job on another key must not wait for key "a".
	done := make(chan struct{})
	go q.Run("b", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job on key b blocked behind key a")
	}
	close(release)
}

func TestKeyQueuePanicDoesNotPoison(t *testing.T) {
	q := newKeyQueue(time.Minute, nil)

	func() {
		defer func() { recover() }()
		q.Run("k", func() { panic("boom") })
	}()

	done := make(chan struct{})
	go q.Run("k", func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue poisoned by panicking job")
	}
}

func TestKeyQueueWorkerGC(t *testing.T) {
	q := newKeyQueue(50*time.Millisecond, nil)
	q.Run("k", func() {})
	if q.size() != 1 {
		t.Fatalf("workers = %d, want 1", q.size())
	}
	deadline := time.Now().Add(2 * time.Second)
	for q.size() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("idle worker never retired")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// The key is usable again after GC.
	q.Run("k", func() {})
}
