package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CronJob is a recurring prompt bound to a cron expression.
type CronJob struct {
	ID        string
	Name      string
	Schedule  string
	AgentID   string
	Prompt    string
	DeliverTo string // "<channel>:<target>", empty for none
	Enabled   bool
	LastRunAt time.Time // zero when never run
	CreatedAt time.Time
}

// CronUpdate carries the generalized column set for UpdateCronJob.
// Nil fields are left unchanged.
type CronUpdate struct {
	Name      *string
	Schedule  *string
	AgentID   *string
	Prompt    *string
	DeliverTo *string
	Enabled   *bool
}

// CreateCronJob inserts a new job. Names are unique.
func (s *Store) CreateCronJob(ctx context.Context, job CronJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, name, schedule, agent_id, prompt, deliver_to, enabled, last_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		job.ID, job.Name, job.Schedule, job.AgentID, job.Prompt, nullStr(job.DeliverTo),
		boolInt(job.Enabled), job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("cron job %q: %w", job.Name, ErrConflict)
		}
		return fmt.Errorf("create cron job: %w", err)
	}
	return nil
}

// GetCronJob fetches a job by id.
func (s *Store) GetCronJob(ctx context.Context, id string) (CronJob, error) {
	row := s.db.QueryRowContext(ctx, cronSelect+` WHERE id = ?`, id)
	job, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return CronJob{}, fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return CronJob{}, fmt.Errorf("get cron job: %w", err)
	}
	return job, nil
}

// GetCronJobByName fetches a job by its unique name.
func (s *Store) GetCronJobByName(ctx context.Context, name string) (CronJob, error) {
	row := s.db.QueryRowContext(ctx, cronSelect+` WHERE name = ?`, name)
	job, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return CronJob{}, fmt.Errorf("cron job %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return CronJob{}, fmt.Errorf("get cron job: %w", err)
	}
	return job, nil
}

// ListCronJobs returns all jobs ordered by name.
func (s *Store) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx, cronSelect+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cron jobs: %w", err)
	}
	defer rows.Close()

	var out []CronJob
	for rows.Next() {
		job, err := scanCronJob(rows)
		if err != nil {
			return nil, fmt.Errorf("list cron jobs: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// SetCronJobEnabled flips the enabled flag.
func (s *Store) SetCronJobEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET enabled = ? WHERE id = ?`, boolInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set cron job enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchCronJobLastRun records a fire time.
func (s *Store) TouchCronJobLastRun(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET last_run_at = ? WHERE id = ?`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateCronJob applies the non-nil fields of upd to a job.
func (s *Store) UpdateCronJob(ctx context.Context, id string, upd CronUpdate) error {
	q := `UPDATE cron_jobs SET id = id`
	var args []any
	if upd.Name != nil {
		q += `, name = ?`
		args = append(args, *upd.Name)
	}
	if upd.Schedule != nil {
		q += `, schedule = ?`
		args = append(args, *upd.Schedule)
	}
	if upd.AgentID != nil {
		q += `, agent_id = ?`
		args = append(args, *upd.AgentID)
	}
	if upd.Prompt != nil {
		q += `, prompt = ?`
		args = append(args, *upd.Prompt)
	}
	if upd.DeliverTo != nil {
		q += `, deliver_to = ?`
		args = append(args, nullStr(*upd.DeliverTo))
	}
	if upd.Enabled != nil {
		q += `, enabled = ?`
		args = append(args, boolInt(*upd.Enabled))
	}
	q += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("cron job %s: %w", id, ErrConflict)
		}
		return fmt.Errorf("update cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteCronJob removes a job.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete cron job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cron job %s: %w", id, ErrNotFound)
	}
	return nil
}

const cronSelect = `SELECT id, name, schedule, agent_id, prompt, deliver_to, enabled, last_run_at, created_at FROM cron_jobs`

func scanCronJob(r rowScanner) (CronJob, error) {
	var (
		job       CronJob
		deliverTo sql.NullString
		lastRun   sql.NullInt64
		enabled   int
		createdMS int64
	)
	err := r.Scan(&job.ID, &job.Name, &job.Schedule, &job.AgentID, &job.Prompt, &deliverTo, &enabled, &lastRun, &createdMS)
	if err != nil {
		return CronJob{}, err
	}
	job.DeliverTo = deliverTo.String
	job.Enabled = enabled != 0
	if lastRun.Valid {
		job.LastRunAt = time.UnixMilli(lastRun.Int64)
	}
	job.CreatedAt = time.UnixMilli(createdMS)
	return job, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
