// Package tasks runs the persistent queue of one-shot deferred prompts.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cladehq/clade/internal/sessions"
	"github.com/cladehq/clade/internal/store"
)

const (
	// tickInterval bounds how late a due task can start.
	tickInterval = 15 * time.Second

	// MinDelayMinutes and MaxDelayMinutes bound the schedulable window
	// (30 seconds to 30 days).
	MinDelayMinutes = 0.5
	MaxDelayMinutes = 43200
)

// ErrValidation reports a schedule request outside the allowed bounds.
var ErrValidation = errors.New("validation failed")

// ErrForbidden reports a cancel attempt by a non-owner.
var ErrForbidden = errors.New("forbidden")

// Sender dispatches a deferred prompt. *sessions.Manager satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error)
}

// Queue schedules and executes deferred tasks. Pending rows live in the
// store; a ticker claims due rows and runs them on a bounded worker pool.
type Queue struct {
	store  *store.Store
	sender Sender
	sem    chan struct{} // bounds concurrent executions
	wake   chan struct{}
	log    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue builds a task queue. maxConcurrent caps in-flight executions
// across all agents (default 4).
func NewQueue(st *store.Store, sender Sender, maxConcurrent int, log *slog.Logger) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		store:  st,
		sender: sender,
		sem:    make(chan struct{}, maxConcurrent),
		wake:   make(chan struct{}, 1),
		log:    log,
	}
}

// Schedule validates the delay, persists a pending task, and wakes the
// ticker early when the task lands within the next two tick periods.
func (q *Queue) Schedule(ctx context.Context, agentID, sessionID, prompt, description string, delayMinutes float64) (store.Task, error) {
	if delayMinutes < MinDelayMinutes || delayMinutes > MaxDelayMinutes {
		return store.Task{}, fmt.Errorf("delayMinutes %g outside [%g, %g]: %w",
			delayMinutes, MinDelayMinutes, float64(MaxDelayMinutes), ErrValidation)
	}
	if prompt == "" {
		return store.Task{}, fmt.Errorf("prompt is required: %w", ErrValidation)
	}

	delay := time.Duration(delayMinutes * float64(time.Minute))
	task := store.Task{
		ID:          uuid.NewString(),
		AgentID:     agentID,
		SessionID:   sessionID,
		Prompt:      prompt,
		Description: description,
		ExecuteAt:   time.Now().Add(delay),
	}
	if err := q.store.EnqueueTask(ctx, task); err != nil {
		return store.Task{}, err
	}
	q.log.Info("task scheduled", "task_id", task.ID, "agent", agentID, "execute_at", task.ExecuteAt)

	if delay <= 2*tickInterval {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	return task, nil
}

// Cancel transitions a pending task to cancelled. When callerAgentID is
// non-empty it must match the task's owner.
func (q *Queue) Cancel(ctx context.Context, id, callerAgentID string) error {
	task, err := q.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if callerAgentID != "" && callerAgentID != task.AgentID {
		return fmt.Errorf("task %s belongs to %s: %w", id, task.AgentID, ErrForbidden)
	}
	return q.store.CancelTask(ctx, id)
}

// List returns an agent's tasks, most recent first. Empty agentID lists
// across agents.
func (q *Queue) List(ctx context.Context, agentID string) ([]store.Task, error) {
	return q.store.ListTasksByAgent(ctx, agentID, 50)
}

// Start launches the ticker loop.
func (q *Queue) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.loop(ctx)
	}()
}

// Stop halts the loop and waits for in-flight executions.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) loop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.wake:
		}
		q.runDue(ctx)
	}
}

// runDue claims every due pending task and executes each on the bounded
// pool. The pending→running transition is the claim: a concurrent cancel
// or a second host loses the race cleanly.
func (q *Queue) runDue(ctx context.Context) {
	due, err := q.store.ListDueTasks(ctx, time.Now())
	if err != nil {
		q.log.Error("listing due tasks failed", "error", err)
		return
	}
	for _, task := range due {
		if err := q.store.MarkTaskRunning(ctx, task.ID); err != nil {
			if !errors.Is(err, store.ErrInvalidState) {
				q.log.Warn("claiming task failed", "task_id", task.ID, "error", err)
			}
			continue
		}
		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			// Host shutting down: give the claim back.
			if err := q.store.MarkTaskFailed(ctx, task.ID, "host shutdown before execution"); err != nil {
				q.log.Warn("releasing claimed task failed", "task_id", task.ID, "error", err)
			}
			return
		}
		task := task
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer func() { <-q.sem }()
			q.execute(ctx, task)
		}()
	}
}

func (q *Queue) execute(ctx context.Context, task store.Task) {
	q.log.Info("task running", "task_id", task.ID, "agent", task.AgentID, "description", task.Description)
	_, err := q.sender.SendMessage(ctx, task.AgentID, task.Prompt, "taskqueue", task.AgentID, task.SessionID)
	if err != nil {
		q.log.Warn("task failed", "task_id", task.ID, "error", err)
		if merr := q.store.MarkTaskFailed(ctx, task.ID, err.Error()); merr != nil {
			q.log.Error("recording task failure failed", "task_id", task.ID, "error", merr)
		}
		return
	}
	if err := q.store.MarkTaskDone(ctx, task.ID); err != nil {
		q.log.Error("recording task completion failed", "task_id", task.ID, "error", err)
	}
}
