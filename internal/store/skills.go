package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SkillStatus is the review state of an installed skill.
type SkillStatus string

const (
	SkillPending  SkillStatus = "pending"
	SkillActive   SkillStatus = "active"
	SkillDisabled SkillStatus = "disabled"
)

// Skill is an installable MCP tool server known to the host.
type Skill struct {
	Name      string
	Status    SkillStatus
	Path      string
	Config    string // raw JSON server entry, empty when none
	CreatedAt time.Time
}

// CreateSkill registers a skill. Names are unique.
func (s *Store) CreateSkill(ctx context.Context, sk Skill) error {
	if sk.Status == "" {
		sk.Status = SkillPending
	}
	if sk.CreatedAt.IsZero() {
		sk.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (name, status, path, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		sk.Name, string(sk.Status), sk.Path, nullStr(sk.Config), sk.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("skill %q: %w", sk.Name, ErrConflict)
		}
		return fmt.Errorf("create skill: %w", err)
	}
	return nil
}

// GetSkill fetches a skill by name.
func (s *Store) GetSkill(ctx context.Context, name string) (Skill, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, status, path, config, created_at FROM skills WHERE name = ?`, name)
	sk, err := scanSkill(row)
	if err == sql.ErrNoRows {
		return Skill{}, fmt.Errorf("skill %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Skill{}, fmt.Errorf("get skill: %w", err)
	}
	return sk, nil
}

// ListSkills returns skills in a given status, or all when status is empty.
func (s *Store) ListSkills(ctx context.Context, status SkillStatus) ([]Skill, error) {
	q := `SELECT name, status, path, config, created_at FROM skills`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("list skills: %w", err)
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// SetSkillStatus moves a skill between pending, approved and disabled.
func (s *Store) SetSkillStatus(ctx context.Context, name string, status SkillStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skills SET status = ? WHERE name = ?`, string(status), name)
	if err != nil {
		return fmt.Errorf("set skill status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill %q: %w", name, ErrNotFound)
	}
	return nil
}

// DeleteSkill removes a skill row.
func (s *Store) DeleteSkill(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("skill %q: %w", name, ErrNotFound)
	}
	return nil
}

func scanSkill(r rowScanner) (Skill, error) {
	var (
		sk        Skill
		config    sql.NullString
		status    string
		createdMS int64
	)
	if err := r.Scan(&sk.Name, &status, &sk.Path, &config, &createdMS); err != nil {
		return Skill{}, err
	}
	sk.Status = SkillStatus(status)
	sk.Config = config.String
	sk.CreatedAt = time.UnixMilli(createdMS)
	return sk, nil
}
