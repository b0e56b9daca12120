package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"agentmesh/internal/domain"
)

// SQLiteInteractionStore implements domain.InteractionStore using
// SQLite. Records are append-only; there is no update or delete path.
type SQLiteInteractionStore struct {
	db *sql.DB
}

// NewSQLiteInteractionStore runs the schema migration and returns the store.
func NewSQLiteInteractionStore(db *sql.DB) (*SQLiteInteractionStore, error) {
	if err := migrateInteractions(db); err != nil {
		return nil, fmt.Errorf("migrate interactions: %w", err)
	}
	return &SQLiteInteractionStore{db: db}, nil
}

func migrateInteractions(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id                 TEXT PRIMARY KEY,
			agent_id           TEXT NOT NULL,
			session_id         TEXT,
			tenant_id          TEXT NOT NULL,
			skill              TEXT NOT NULL,
			input              TEXT NOT NULL DEFAULT '{}',
			output             TEXT NOT NULL DEFAULT '{}',
			duration_ms        INTEGER NOT NULL,
			success            INTEGER NOT NULL,
			error_message      TEXT NOT NULL DEFAULT '',
			communication_type TEXT NOT NULL,
			target_tenant_id   TEXT NOT NULL DEFAULT '',
			agent_called       TEXT NOT NULL DEFAULT '',
			created_at         TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_agent
			ON interactions (tenant_id, agent_id, created_at);
	`)
	return err
}

func (s *SQLiteInteractionStore) Append(ctx context.Context, rec *domain.Interaction) error {
	inputJSON, err := json.Marshal(rec.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	outputJSON, err := json.Marshal(rec.Output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	success := 0
	if rec.Success {
		success = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interactions
			(id, agent_id, session_id, tenant_id, skill, input, output,
			 duration_ms, success, error_message, communication_type,
			 target_tenant_id, agent_called, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, rec.SessionID, rec.TenantID, rec.Skill,
		string(inputJSON), string(outputJSON),
		rec.DurationMS, success, rec.ErrorMessage, string(rec.CommunicationType),
		rec.TargetTenantID, rec.AgentCalled,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *SQLiteInteractionStore) ListByAgent(ctx context.Context, tenantID, agentID string, limit int) ([]*domain.Interaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, session_id, tenant_id, skill, input, output,
		       duration_ms, success, error_message, communication_type,
		       target_tenant_id, agent_called, created_at
		FROM interactions
		WHERE tenant_id = ? AND agent_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*domain.Interaction
	for rows.Next() {
		rec, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLiteInteractionStore) CountByAgent(ctx context.Context, tenantID, agentID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM interactions WHERE tenant_id = ? AND agent_id = ?",
		tenantID, agentID,
	).Scan(&n)
	return n, err
}

func scanInteraction(rows *sql.Rows) (*domain.Interaction, error) {
	var rec domain.Interaction
	var inputStr, outputStr, commType, createdStr string
	var success int
	err := rows.Scan(&rec.ID, &rec.AgentID, &rec.SessionID, &rec.TenantID, &rec.Skill,
		&inputStr, &outputStr, &rec.DurationMS, &success, &rec.ErrorMessage,
		&commType, &rec.TargetTenantID, &rec.AgentCalled, &createdStr)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(inputStr), &rec.Input); err != nil {
		return nil, fmt.Errorf("unmarshal input: %w", err)
	}
	if err := json.Unmarshal([]byte(outputStr), &rec.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	rec.Success = success == 1
	rec.CommunicationType = domain.CommunicationType(commType)
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &rec, nil
}
