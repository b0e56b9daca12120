// Package connection persists gateway connection registrations.
package connection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"agentmesh/internal/domain"
)

// SQLiteConnectionStore implements domain.ConnectionStore using SQLite.
type SQLiteConnectionStore struct {
	db *sql.DB
}

// NewSQLiteConnectionStore runs the schema migration and returns the store.
func NewSQLiteConnectionStore(db *sql.DB) (*SQLiteConnectionStore, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate connections: %w", err)
	}
	return &SQLiteConnectionStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS connections (
			id             TEXT PRIMARY KEY,
			tenant_id      TEXT NOT NULL,
			platform       TEXT NOT NULL,
			endpoint       TEXT NOT NULL DEFAULT '',
			credential     TEXT NOT NULL UNIQUE,
			enabled        INTEGER NOT NULL DEFAULT 1,
			agent_types    TEXT NOT NULL DEFAULT '[]',
			skills         TEXT NOT NULL DEFAULT '[]',
			total_requests INTEGER NOT NULL DEFAULT 0,
			last_used_at   TEXT,
			created_at     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_connections_tenant
			ON connections (tenant_id);
	`)
	return err
}

func (s *SQLiteConnectionStore) Create(ctx context.Context, c *domain.Connection) error {
	typesJSON, err := json.Marshal(c.AgentTypes)
	if err != nil {
		return fmt.Errorf("marshal agent types: %w", err)
	}
	skillsJSON, err := json.Marshal(c.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}

	now := time.Now().UTC()
	c.CreatedAt = now
	enabled := 0
	if c.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO connections
			(id, tenant_id, platform, endpoint, credential, enabled, agent_types, skills, total_requests, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		c.ID, c.TenantID, c.Platform, c.Endpoint, c.Credential, enabled,
		string(typesJSON), string(skillsJSON), now.Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteConnectionStore) Get(ctx context.Context, id string) (*domain.Connection, error) {
	row := s.db.QueryRowContext(ctx, selectCols+" FROM connections WHERE id = ?", id)
	return scanConnection(row.Scan)
}

func (s *SQLiteConnectionStore) GetByCredential(ctx context.Context, credential string) (*domain.Connection, error) {
	row := s.db.QueryRowContext(ctx, selectCols+" FROM connections WHERE credential = ?", credential)
	return scanConnection(row.Scan)
}

func (s *SQLiteConnectionStore) ListByTenant(ctx context.Context, tenantID string) ([]*domain.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		selectCols+" FROM connections WHERE tenant_id = ? ORDER BY created_at", tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		c, err := scanConnection(rows.Scan)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (s *SQLiteConnectionStore) IncrementUsage(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE connections
		SET total_requests = total_requests + 1, last_used_at = ?
		WHERE id = ?`,
		at.UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func (s *SQLiteConnectionStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE connections SET enabled = ? WHERE id = ?", v, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

const selectCols = `
	SELECT id, tenant_id, platform, endpoint, credential, enabled,
	       agent_types, skills, total_requests, last_used_at, created_at`

func scanConnection(scan func(dest ...any) error) (*domain.Connection, error) {
	var c domain.Connection
	var enabled int
	var typesStr, skillsStr, createdStr string
	var lastUsedStr sql.NullString
	err := scan(&c.ID, &c.TenantID, &c.Platform, &c.Endpoint, &c.Credential,
		&enabled, &typesStr, &skillsStr, &c.TotalRequests, &lastUsedStr, &createdStr)
	if err == sql.ErrNoRows {
		return nil, domain.ErrConnectionNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Enabled = enabled == 1
	if err := json.Unmarshal([]byte(typesStr), &c.AgentTypes); err != nil {
		return nil, fmt.Errorf("unmarshal agent types: %w", err)
	}
	if err := json.Unmarshal([]byte(skillsStr), &c.Skills); err != nil {
		return nil, fmt.Errorf("unmarshal skills: %w", err)
	}
	if lastUsedStr.Valid {
		t, err := time.Parse(time.RFC3339Nano, lastUsedStr.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_used_at: %w", err)
		}
		c.LastUsedAt = &t
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &c, nil
}
