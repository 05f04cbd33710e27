package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a session row.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionIdle       SessionStatus = "idle" // reserved, never set today
	SessionTerminated SessionStatus = "terminated"
)

// Session binds an (agent, channel, user, chat) tuple to the opaque
// session identifier assigned by the external CLI.
type Session struct {
	ID            string
	AgentID       string
	Channel       string
	ChannelUserID string
	ChatID        string
	Status        SessionStatus
	CreatedAt     time.Time
	LastActiveAt  time.Time
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	AgentID string
	Channel string
	Status  SessionStatus
	Limit   int
}

// CreateSession inserts a new session row in status active.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	if sess.Status == "" {
		sess.Status = SessionActive
	}
	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	if sess.LastActiveAt.IsZero() {
		sess.LastActiveAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_id, channel, channel_user_id, chat_id, status, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.AgentID, nullStr(sess.Channel), nullStr(sess.ChannelUserID), nullStr(sess.ChatID),
		string(sess.Status), sess.CreatedAt.UnixMilli(), sess.LastActiveAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", sess.ID, ErrConflict)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, channel, channel_user_id, chat_id, status, created_at, last_active_at
		 FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// FindActiveSession returns the active session for the exact tuple, or
// ErrNotFound. When more than one active row matches (should not happen)
// the most recently active wins.
func (s *Store) FindActiveSession(ctx context.Context, agentID, channel, userID, chatID string) (Session, error) {
	q := `SELECT id, agent_id, channel, channel_user_id, chat_id, status, created_at, last_active_at
	      FROM sessions WHERE agent_id = ? AND status = 'active'`
	args := []any{agentID}
	if channel != "" {
		q += ` AND channel = ?`
		args = append(args, channel)
	}
	if userID != "" {
		q += ` AND channel_user_id = ?`
		args = append(args, userID)
	}
	if chatID != "" {
		q += ` AND chat_id = ?`
		args = append(args, chatID)
	} else {
		q += ` AND chat_id IS NULL`
	}
	q += ` ORDER BY last_active_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, q, args...)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("find active session: %w", err)
	}
	return sess, nil
}

// FindAnyActiveSession returns the most recently active session for an
// agent regardless of tuple. Used when channel and user are unknown.
func (s *Store) FindAnyActiveSession(ctx context.Context, agentID string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, channel, channel_user_id, chat_id, status, created_at, last_active_at
		 FROM sessions WHERE agent_id = ? AND status = 'active'
		 ORDER BY last_active_at DESC LIMIT 1`, agentID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("find any active session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions matching the filter, most recently
// active first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	q := `SELECT id, agent_id, channel, channel_user_id, chat_id, status, created_at, last_active_at
	      FROM sessions WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		q += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Channel != "" {
		q += ` AND channel = ?`
		args = append(args, f.Channel)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY last_active_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSessionStatus transitions a session's status.
func (s *Store) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// TouchSession advances last_active_at to now.
func (s *Store) TouchSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteSession removes a session row.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess                  Session
		channel, user, chat   sql.NullString
		createdMS, lastActive int64
		status                string
	)
	err := r.Scan(&sess.ID, &sess.AgentID, &channel, &user, &chat, &status, &createdMS, &lastActive)
	if err != nil {
		return Session{}, err
	}
	sess.Channel = channel.String
	sess.ChannelUserID = user.String
	sess.ChatID = chat.String
	sess.Status = SessionStatus(status)
	sess.CreatedAt = time.UnixMilli(createdMS)
	sess.LastActiveAt = time.UnixMilli(lastActive)
	return sess, nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
