// Package directory implements the persisted agent directory consumed
// read-only by the registry. Write operations exist for agent
// management and seeding; the coordination path never calls them.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentmesh/internal/domain"
)

// SQLiteDirectory implements domain.Directory using SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory runs the schema migration and returns the directory.
func NewSQLiteDirectory(db *sql.DB) (*SQLiteDirectory, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate agents: %w", err)
	}
	return &SQLiteDirectory{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agents (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL,
			skills     TEXT NOT NULL DEFAULT '[]',
			status     TEXT NOT NULL DEFAULT 'active',
			config     TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_agents_tenant_type
			ON agents (tenant_id, type);
	`)
	return err
}

// Create inserts a new agent record. Agents are never deleted, only
// deactivated through SetStatus.
func (d *SQLiteDirectory) Create(ctx context.Context, agent *domain.Agent) error {
	skillsJSON, err := json.Marshal(agent.Skills)
	if err != nil {
		return fmt.Errorf("marshal skills: %w", err)
	}
	cfgJSON, err := json.Marshal(agent.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO agents (id, tenant_id, name, type, skills, status, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID, agent.TenantID, agent.Name, string(agent.Type),
		string(skillsJSON), string(agent.Status), string(cfgJSON),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	return err
}

// SetStatus updates an agent's lifecycle status.
func (d *SQLiteDirectory) SetStatus(ctx context.Context, id string, status domain.AgentStatus) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, updated_at = ? WHERE id = ?",
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

// SetTenant moves an agent to another tenant. Callers are expected to
// clear the registry cache afterwards; the registry's per-access
// revalidation covers the window in between.
func (d *SQLiteDirectory) SetTenant(ctx context.Context, id, tenantID string) error {
	res, err := d.db.ExecContext(ctx,
		"UPDATE agents SET tenant_id = ?, updated_at = ? WHERE id = ?",
		tenantID, time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrAgentNotFound
	}
	return nil
}

func (d *SQLiteDirectory) Get(ctx context.Context, id string) (*domain.Agent, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, type, skills, status, config, created_at, updated_at
		FROM agents WHERE id = ?`, id)

	agent, err := scanAgent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrAgentNotFound
	}
	return agent, err
}

func (d *SQLiteDirectory) List(ctx context.Context, filter domain.DirectoryFilter) ([]*domain.Agent, error) {
	query := `
		SELECT id, tenant_id, name, type, skills, status, config, created_at, updated_at
		FROM agents`
	var conds []string
	var args []any

	if filter.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.ActiveOnly {
		conds = append(conds, "status = ?")
		args = append(args, string(domain.AgentStatusActive))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		agent, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		// Skill membership is a JSON array column; filtered in process.
		if filter.Skill != "" && !agent.HasSkill(filter.Skill) {
			continue
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(scan func(dest ...any) error) (*domain.Agent, error) {
	var agent domain.Agent
	var typ, skillsStr, status, cfgStr, createdStr, updatedStr string
	if err := scan(&agent.ID, &agent.TenantID, &agent.Name, &typ,
		&skillsStr, &status, &cfgStr, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	agent.Type = domain.AgentType(typ)
	agent.Status = domain.AgentStatus(status)
	if err := json.Unmarshal([]byte(skillsStr), &agent.Skills); err != nil {
		return nil, fmt.Errorf("unmarshal skills: %w", err)
	}
	if err := json.Unmarshal([]byte(cfgStr), &agent.Config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if agent.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if agent.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &agent, nil
}
