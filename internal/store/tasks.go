package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a deferred task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskDone      TaskStatus = "done"
	TaskCancelled TaskStatus = "cancelled"
	TaskFailed    TaskStatus = "failed"
)

// Task is a one-shot deferred prompt.
type Task struct {
	ID          string
	AgentID     string
	SessionID   string // optional: continue this session
	Prompt      string
	Description string
	ExecuteAt   time.Time
	Status      TaskStatus
	Error       string
	CreatedAt   time.Time
}

// EnqueueTask writes a pending task row.
func (s *Store) EnqueueTask(ctx context.Context, t Task) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, agent_id, session_id, prompt, description, execute_at, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		t.ID, t.AgentID, nullStr(t.SessionID), t.Prompt, t.Description,
		t.ExecuteAt.UnixMilli(), string(t.Status), t.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("task %s: %w", t.ID, ErrConflict)
		}
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// GetTask fetches a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListDueTasks returns pending tasks whose execute_at is at or before now,
// oldest first.
func (s *Store) ListDueTasks(ctx context.Context, now time.Time) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		taskSelect+` WHERE status = 'pending' AND execute_at <= ? ORDER BY execute_at`,
		now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list due tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// ListTasksByAgent returns an agent's tasks, most recent first, capped.
// Empty agentID lists across all agents.
func (s *Store) ListTasksByAgent(ctx context.Context, agentID string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	q := taskSelect
	var args []any
	if agentID != "" {
		q += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	q += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// MarkTaskRunning transitions pending → running. ErrInvalidState when the
// task is not pending (e.g. cancelled between listing and claiming).
func (s *Store) MarkTaskRunning(ctx context.Context, id string) error {
	return s.transitionTask(ctx, id, TaskRunning, "", TaskPending)
}

// MarkTaskDone transitions running → done.
func (s *Store) MarkTaskDone(ctx context.Context, id string) error {
	return s.transitionTask(ctx, id, TaskDone, "", TaskRunning)
}

// MarkTaskFailed transitions running → failed, recording the error.
func (s *Store) MarkTaskFailed(ctx context.Context, id, errMsg string) error {
	return s.transitionTask(ctx, id, TaskFailed, errMsg, TaskRunning)
}

// CancelTask transitions pending → cancelled. Running and terminal tasks
// reject cancellation.
func (s *Store) CancelTask(ctx context.Context, id string) error {
	return s.transitionTask(ctx, id, TaskCancelled, "", TaskPending)
}

// transitionTask atomically moves a task from one of the allowed source
// states to next. The WHERE clause makes the check-and-set one statement.
func (s *Store) transitionTask(ctx context.Context, id string, next TaskStatus, errMsg string, from TaskStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, error = ? WHERE id = ? AND status = ?`,
		string(next), nullStr(errMsg), id, string(from))
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish missing from wrong-state for the caller.
		if _, err := s.GetTask(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("task %s not in %s: %w", id, from, ErrInvalidState)
	}
	return nil
}

const taskSelect = `SELECT id, agent_id, session_id, prompt, description, execute_at, status, error, created_at FROM tasks`

func scanTask(r rowScanner) (Task, error) {
	var (
		t                  Task
		sessionID, errMsg  sql.NullString
		executeMS, created int64
		status             string
	)
	err := r.Scan(&t.ID, &t.AgentID, &sessionID, &t.Prompt, &t.Description, &executeMS, &status, &errMsg, &created)
	if err != nil {
		return Task{}, err
	}
	t.SessionID = sessionID.String
	t.Error = errMsg.String
	t.Status = TaskStatus(status)
	t.ExecuteAt = time.UnixMilli(executeMS)
	t.CreatedAt = time.UnixMilli(created)
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
