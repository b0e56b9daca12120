package domain

import (
	"context"
	"time"
)

// Connection is a registered external-platform integration: the
// credential that authenticates inbound envelopes and the endpoint
// used for outbound delivery. Usage counters are bumped on each
// successful gateway dispatch.
type Connection struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	Platform   string      `json:"platform"`
	Endpoint   string      `json:"endpoint"`
	Credential string      `json:"-"`
	Enabled    bool        `json:"enabled"`
	AgentTypes []AgentType `json:"agent_types,omitempty"`
	Skills     []string    `json:"skills,omitempty"`

	TotalRequests int64      `json:"total_requests"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SupportsType reports whether the connection allows the agent type.
// An empty AgentTypes list allows all types.
func (c *Connection) SupportsType(t AgentType) bool {
	if len(c.AgentTypes) == 0 {
		return true
	}
	for _, at := range c.AgentTypes {
		if at == t {
			return true
		}
	}
	return false
}

// SupportsSkill reports whether the connection allows the skill.
// An empty Skills list allows all skills.
func (c *Connection) SupportsSkill(skill string) bool {
	if len(c.Skills) == 0 {
		return true
	}
	for _, s := range c.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// ConnectionStore persists gateway connections.
type ConnectionStore interface {
	Create(ctx context.Context, c *Connection) error
	Get(ctx context.Context, id string) (*Connection, error)
	// GetByCredential returns the connection matching the bearer
	// credential, or ErrConnectionNotFound.
	GetByCredential(ctx context.Context, credential string) (*Connection, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Connection, error)
	// IncrementUsage bumps total_requests and stamps last_used_at.
	IncrementUsage(ctx context.Context, id string, at time.Time) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
}
