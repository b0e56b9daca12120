package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"agentmesh/internal/domain"
)

// SQLiteSessionStore implements domain.SessionStore using SQLite.
type SQLiteSessionStore struct {
	db *sql.DB
}

// NewSQLiteSessionStore runs the schema migration and returns the store.
func NewSQLiteSessionStore(db *sql.DB) (*SQLiteSessionStore, error) {
	if err := migrateSessions(db); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &SQLiteSessionStore{db: db}, nil
}

func migrateSessions(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id           TEXT PRIMARY KEY,
			agent_id     TEXT NOT NULL,
			tenant_id    TEXT NOT NULL,
			context_id   TEXT NOT NULL,
			context_type TEXT NOT NULL,
			status       TEXT NOT NULL,
			started_at   TEXT NOT NULL,
			completed_at TEXT,
			expires_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expiry
			ON sessions (status, expires_at);
	`)
	return err
}

func (s *SQLiteSessionStore) Create(ctx context.Context, sess *domain.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(id, agent_id, tenant_id, context_id, context_type, status, started_at, completed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, ?)`,
		sess.ID, sess.AgentID, sess.TenantID, sess.ContextID, sess.ContextType,
		string(sess.Status),
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteSessionStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, tenant_id, context_id, context_type, status, started_at, completed_at, expires_at
		FROM sessions WHERE id = ?`, id)

	var sess domain.Session
	var status, startedStr, expiresStr string
	var completedStr sql.NullString
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.TenantID, &sess.ContextID,
		&sess.ContextType, &status, &startedStr, &completedStr, &expiresStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.Status = domain.SessionStatus(status)
	if sess.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if sess.ExpiresAt, err = time.Parse(time.RFC3339Nano, expiresStr); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if completedStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		sess.CompletedAt = &t
	}
	return &sess, nil
}

// UpdateStatus moves an active session to the given status. AgentID and
// TenantID columns are never touched. The status predicate enforces
// finality in the store itself: a session another process already moved
// to a terminal state cannot be overwritten from a stale copy.
func (s *SQLiteSessionStore) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, completedAt *time.Time) error {
	var completed any
	if completedAt != nil {
		completed = completedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE sessions SET status = ?, completed_at = ? WHERE id = ? AND status = ?",
		string(status), completed, id, string(domain.SessionStatusActive))
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, "SELECT status FROM sessions WHERE id = ?", id).Scan(&current)
		if err == sql.ErrNoRows {
			return domain.ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return domain.ErrSessionTerminal
	}
	return nil
}

// ExpireBefore marks active sessions past their expiry as errored.
func (s *SQLiteSessionStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, completed_at = ?
		WHERE status = ? AND expires_at < ?`,
		string(domain.SessionStatusError), now,
		string(domain.SessionStatusActive),
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
