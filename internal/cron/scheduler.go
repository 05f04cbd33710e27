// Package cron drives recurring agent prompts from cron expressions.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/cladehq/clade/internal/sessions"
	"github.com/cladehq/clade/internal/store"
)

// Sender dispatches a cron prompt. *sessions.Manager satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, agentID, prompt, channel, userID, chatID string) (sessions.Reply, error)
}

// Deliverer hands a job's result text to a channel adapter.
type Deliverer interface {
	Deliver(ctx context.Context, channel, target, text string) error
}

// Scheduler keeps one timer goroutine per enabled job, synced with the
// store.
type Scheduler struct {
	store   *store.Store
	sender  Sender
	deliver Deliverer
	gron    *gronx.Gronx
	log     *slog.Logger

	mu   sync.Mutex
	live map[string]context.CancelFunc // job id → stop

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler builds a cron scheduler. deliver may be nil when no
// channel adapters are registered.
func NewScheduler(st *store.Store, sender Sender, deliver Deliverer, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   st,
		sender:  sender,
		deliver: deliver,
		gron:    gronx.New(),
		log:     log,
		live:    map[string]context.CancelFunc{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start loads every job from the store and schedules the enabled ones.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		return fmt.Errorf("load cron jobs: %w", err)
	}
	for _, job := range jobs {
		if job.Enabled {
			s.schedule(job)
		}
	}
	s.log.Info("cron scheduler started", "jobs", len(jobs))
	return nil
}

// Stop tears down all live schedules and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// AddJob validates the expression, persists the job, and schedules it
// when enabled.
func (s *Scheduler) AddJob(ctx context.Context, name, schedule, agentID, prompt, deliverTo string, enabled bool) (store.CronJob, error) {
	if !s.gron.IsValid(schedule) {
		return store.CronJob{}, fmt.Errorf("invalid cron expression %q", schedule)
	}
	job := store.CronJob{
		ID:        uuid.NewString(),
		Name:      name,
		Schedule:  schedule,
		AgentID:   agentID,
		Prompt:    prompt,
		DeliverTo: deliverTo,
		Enabled:   enabled,
	}
	if err := s.store.CreateCronJob(ctx, job); err != nil {
		return store.CronJob{}, err
	}
	if enabled {
		s.schedule(job)
	}
	return job, nil
}

// RemoveJob stops and deletes a job.
func (s *Scheduler) RemoveJob(ctx context.Context, id string) error {
	s.unschedule(id)
	return s.store.DeleteCronJob(ctx, id)
}

// EnableJob flips a job on in the store and the live schedule.
func (s *Scheduler) EnableJob(ctx context.Context, id string) error {
	if err := s.store.SetCronJobEnabled(ctx, id, true); err != nil {
		return err
	}
	job, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return err
	}
	s.schedule(job)
	return nil
}

// DisableJob flips a job off in the store and stops its live schedule.
func (s *Scheduler) DisableJob(ctx context.Context, id string) error {
	if err := s.store.SetCronJobEnabled(ctx, id, false); err != nil {
		return err
	}
	s.unschedule(id)
	return nil
}

// ListJobs returns all jobs from the store.
func (s *Scheduler) ListJobs(ctx context.Context) ([]store.CronJob, error) {
	return s.store.ListCronJobs(ctx)
}

// IsJobActive reports whether a job has a live schedule.
func (s *Scheduler) IsJobActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

func (s *Scheduler) schedule(job store.CronJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[job.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.live[job.ID] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, job)
	}()
}

func (s *Scheduler) unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.live[id]; ok {
		cancel()
		delete(s.live, id)
	}
}

func (s *Scheduler) loop(ctx context.Context, job store.CronJob) {
	for {
		next, err := gronx.NextTickAfter(job.Schedule, time.Now(), false)
		if err != nil {
			s.log.Error("cron job has unusable schedule, stopping", "job", job.Name, "schedule", job.Schedule, "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.fire(ctx, job)
	}
}

// fire runs one job: dispatch, touch lastRunAt, optional delivery.
// Delivery failures never fail the job.
func (s *Scheduler) fire(ctx context.Context, job store.CronJob) {
	s.log.Info("cron job firing", "job", job.Name, "agent", job.AgentID)

	reply, err := s.sender.SendMessage(ctx, job.AgentID, job.Prompt, "cron", "cron", "")
	if err != nil {
		s.log.Warn("cron job run failed", "job", job.Name, "error", err)
		return
	}
	if err := s.store.TouchCronJobLastRun(ctx, job.ID, time.Now()); err != nil {
		s.log.Warn("recording cron run failed", "job", job.Name, "error", err)
	}

	if job.DeliverTo == "" || s.deliver == nil {
		return
	}
	channel, target, err := ParseDeliverTo(job.DeliverTo)
	if err != nil {
		s.log.Warn("cron deliverTo unparseable", "job", job.Name, "deliverTo", job.DeliverTo, "error", err)
		return
	}
	if err := s.deliver.Deliver(ctx, channel, target, reply.Text); err != nil {
		s.log.Warn("cron delivery failed", "job", job.Name, "channel", channel, "error", err)
	}
}

// ParseDeliverTo splits "<channel>:<target>".
func ParseDeliverTo(v string) (channel, target string, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("deliverTo %q: want <channel>:<target>", v)
	}
	return parts[0], parts[1], nil
}
