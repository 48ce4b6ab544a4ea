// Package transcript persists completed chat exchanges in SQLite.
package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// Migrations returns the schema statements, one per Exec.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS turns (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id    TEXT NOT NULL,
			model         TEXT NOT NULL,
			user_text     TEXT NOT NULL,
			assistant     TEXT NOT NULL,
			finish_reason TEXT NOT NULL DEFAULT '',
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id)`,
	}
}

// Store is the SQLite transcript database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
// path may start with "~"; ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		p, err := fsutil.EnsureParentDir(path)
		if err != nil {
			return nil, err
		}
		dsn = p
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transcript db: %w", err)
	}
	// One writer; also keeps a ":memory:" database on a single connection.
	db.SetMaxOpenConns(1)
	stmts := append([]string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
	}, Migrations()...)
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate transcript db: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Append stores a turn and returns its id. A zero CreatedUnix means now.
func (s *Store) Append(ctx context.Context, t types.Turn) (int64, error) {
	if t.CreatedUnix == 0 {
		t.CreatedUnix = time.Now().Unix()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, model, user_text, assistant, finish_reason, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Model, t.User, t.Assistant, t.FinishReason, t.CreatedUnix)
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	return res.LastInsertId()
}

// List returns up to limit most recent turns, oldest first.
func (s *Store) List(ctx context.Context, limit int) ([]types.Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, model, user_text, assistant, finish_reason, created_at
		   FROM turns ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()
	var out []types.Turn
	for rows.Next() {
		var t types.Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Model, &t.User, &t.Assistant, &t.FinishReason, &t.CreatedUnix); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Close() error { return s.db.Close() }
