package sessions

import (
	"log/slog"
	"sync"
	"time"
)

// defaultWorkerIdleTTL is how long a key's worker lingers after its last
// job before being retired.
const defaultWorkerIdleTTL = 5 * time.Minute

// keyQueue runs jobs strictly FIFO per key and in parallel across keys.
// Each key owns one goroutine; workers are garbage-collected after an
// idle period so a quiet user does not pin a goroutine forever.
type keyQueue struct {
	mu      sync.Mutex
	workers map[string]*keyWorker
	idleTTL time.Duration
	log     *slog.Logger
}

type keyWorker struct {
	jobs    chan func()
	pending int
}

func newKeyQueue(idleTTL time.Duration, log *slog.Logger) *keyQueue {
	if idleTTL <= 0 {
		idleTTL = defaultWorkerIdleTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &keyQueue{workers: map[string]*keyWorker{}, idleTTL: idleTTL, log: log}
}

// Run enqueues fn on key's worker and blocks until it has run. A failed
// or panicking predecessor never poisons the queue: each job is isolated.
func (q *keyQueue) Run(key string, fn func()) {
	done := make(chan struct{})

	q.mu.Lock()
	w, ok := q.workers[key]
	if !ok {
		w = &keyWorker{jobs: make(chan func(), 64)}
		q.workers[key] = w
		go q.loop(key, w)
	}
	w.pending++
	q.mu.Unlock()

	w.jobs <- func() {
		defer close(done)
		fn()
	}
	<-done
}

func (q *keyQueue) loop(key string, w *keyWorker) {
	idle := time.NewTimer(q.idleTTL)
	defer idle.Stop()
	for {
		select {
		case job := <-w.jobs:
			q.runJob(key, job)
			q.mu.Lock()
			w.pending--
			q.mu.Unlock()
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(q.idleTTL)
		case <-idle.C:
			q.mu.Lock()
			if w.pending == 0 {
				delete(q.workers, key)
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			idle.Reset(q.idleTTL)
		}
	}
}

func (q *keyQueue) runJob(key string, job func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("session queue job panicked", "key", key, "panic", r)
		}
	}()
	job()
}

// size returns the number of live workers. Test hook.
func (q *keyQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.workers)
}
