package domain

import (
	"context"
	"time"
)

// AgentType selects which concrete runtime backs an agent.
// The set is closed: adding a type means adding one runtime variant
// and one constructor table entry.
type AgentType string

const (
	AgentTypeSourcing   AgentType = "sourcing"
	AgentTypeAssessment AgentType = "assessment"
	AgentTypeReview     AgentType = "review"
)

// AgentStatus describes an agent's lifecycle state.
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusTraining AgentStatus = "training"
	AgentStatusError    AgentStatus = "error"
)

// Agent is the persisted definition of an agent: identity, tenant
// ownership, declared skills, and status. Agents are never deleted,
// only deactivated.
type Agent struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Name      string         `json:"name"`
	Type      AgentType      `json:"type"`
	Skills    []string       `json:"skills"`
	Status    AgentStatus    `json:"status"`
	Config    map[string]any `json:"config,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// HasSkill reports whether the agent declares the named skill.
func (a *Agent) HasSkill(skill string) bool {
	for _, s := range a.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// DirectoryFilter narrows a Directory listing. Zero values mean "any".
type DirectoryFilter struct {
	TenantID   string
	Type       AgentType
	Skill      string
	ActiveOnly bool
}

// Directory is the read-only view of persisted agent definitions
// consumed by the registry. Writes happen through agent-management
// operations outside the coordination layer.
type Directory interface {
	// Get returns the agent with the given ID regardless of tenant.
	// Tenant filtering is the caller's responsibility.
	Get(ctx context.Context, id string) (*Agent, error)
	// List returns agents matching the filter, ordered by creation time.
	List(ctx context.Context, filter DirectoryFilter) ([]*Agent, error)
}

// AgentSummary is a read-only capability snapshot of a resolved agent,
// returned by gateway queries without executing anything.
type AgentSummary struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Type   AgentType   `json:"type"`
	Skills []string    `json:"skills"`
	Status AgentStatus `json:"status"`
}
