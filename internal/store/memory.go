package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// MemoryChunk is one indexed slice of a memory file.
type MemoryChunk struct {
	ID        string
	AgentID   string
	FilePath  string
	Start     int // byte offset of the chunk in the file
	End       int
	Text      string
	UpdatedAt time.Time
}

// MemoryHit is a search result with its source location.
type MemoryHit struct {
	ChunkID  string
	AgentID  string
	FilePath string
	Start    int
	End      int
	Text     string
	Rank     float64 // bm25, lower is better
}

// IndexMemoryChunks replaces the index entries for one file in a single
// transaction: clears the old chunks, inserts the new set.
func (s *Store) IndexMemoryChunks(ctx context.Context, agentID, filePath string, chunks []MemoryChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index memory: %w", err)
	}
	defer tx.Rollback()

	if err := clearFileTx(ctx, tx, agentID, filePath); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_chunks (id, agent_id, file_path, chunk_start, chunk_end, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, agentID, filePath, c.Start, c.End, now); err != nil {
			return fmt.Errorf("index memory chunk: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO memory_fts (chunk_text, chunk_id, agent_id) VALUES (?, ?, ?)`,
			c.Text, c.ID, agentID); err != nil {
			return fmt.Errorf("index memory fts: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index memory: %w", err)
	}
	return nil
}

// ClearMemoryFile drops all index entries for one file.
func (s *Store) ClearMemoryFile(ctx context.Context, agentID, filePath string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear memory file: %w", err)
	}
	defer tx.Rollback()
	if err := clearFileTx(ctx, tx, agentID, filePath); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear memory file: %w", err)
	}
	return nil
}

func clearFileTx(ctx context.Context, tx *sql.Tx, agentID, filePath string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_fts WHERE chunk_id IN
		   (SELECT id FROM memory_chunks WHERE agent_id = ? AND file_path = ?)`,
		agentID, filePath); err != nil {
		return fmt.Errorf("clear memory fts: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_chunks WHERE agent_id = ? AND file_path = ?`,
		agentID, filePath); err != nil {
		return fmt.Errorf("clear memory chunks: %w", err)
	}
	return nil
}

// SearchMemory runs a full-text query against an agent's indexed memory,
// best matches first. Query tokens are phrase-quoted so punctuation in
// user input never reaches the FTS5 query parser.
func (s *Store) SearchMemory(ctx context.Context, agentID, query string, limit int) ([]MemoryHit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.chunk_id, f.agent_id, c.file_path, c.chunk_start, c.chunk_end, f.chunk_text, bm25(memory_fts)
		 FROM memory_fts f
		 JOIN memory_chunks c ON c.id = f.chunk_id
		 WHERE memory_fts MATCH ? AND f.agent_id = ?
		 ORDER BY bm25(memory_fts)
		 LIMIT ?`,
		match, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}
	defer rows.Close()

	var out []MemoryHit
	for rows.Next() {
		var h MemoryHit
		if err := rows.Scan(&h.ChunkID, &h.AgentID, &h.FilePath, &h.Start, &h.End, &h.Text, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan memory hit: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ListMemoryFiles returns the distinct file paths indexed for an agent.
func (s *Store) ListMemoryFiles(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT file_path FROM memory_chunks WHERE agent_id = ? ORDER BY file_path`, agentID)
	if err != nil {
		return nil, fmt.Errorf("list memory files: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("list memory files: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ftsQuery quotes every whitespace-separated token as an FTS5 phrase and
// joins them with implicit AND. Embedded double quotes are doubled per
// the FTS5 string syntax.
func ftsQuery(q string) string {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
