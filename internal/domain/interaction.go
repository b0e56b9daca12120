package domain

import (
	"context"
	"time"
)

// CommunicationType distinguishes in-tenant calls from explicit
// cross-tenant exchange. External is the only path that may cross
// tenant boundaries, and it always names the target tenant.
type CommunicationType string

const (
	CommunicationInternal CommunicationType = "internal"
	CommunicationExternal CommunicationType = "external"
)

// Valid reports whether the communication type is a known value.
func (c CommunicationType) Valid() bool {
	return c == CommunicationInternal || c == CommunicationExternal
}

// Interaction is the immutable audit record of one skill execution
// attempt. Exactly one is created per attempt, success or failure,
// and it is never mutated afterwards.
type Interaction struct {
	ID                string            `json:"id"`
	AgentID           string            `json:"agent_id"`
	SessionID         string            `json:"session_id,omitempty"`
	TenantID          string            `json:"tenant_id"`
	Skill             string            `json:"skill"`
	Input             map[string]any    `json:"input,omitempty"`
	Output            map[string]any    `json:"output,omitempty"`
	DurationMS        int64             `json:"duration_ms"`
	Success           bool              `json:"success"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	CommunicationType CommunicationType `json:"communication_type"`
	// TargetTenantID is required iff CommunicationType is external.
	TargetTenantID string `json:"target_tenant_id,omitempty"`
	// AgentCalled is set only for agent-to-agent calls: the callee's ID.
	AgentCalled string    `json:"agent_called,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// InteractionStore is an append-only sink for interaction records.
type InteractionStore interface {
	Append(ctx context.Context, rec *Interaction) error
	// ListByAgent returns the most recent records for an agent within a
	// tenant, newest first.
	ListByAgent(ctx context.Context, tenantID, agentID string, limit int) ([]*Interaction, error)
	// CountByAgent returns the number of records for an agent within a tenant.
	CountByAgent(ctx context.Context, tenantID, agentID string) (int64, error)
}

// InteractionRecorder accepts records without blocking the execution
// path. Implementations decouple the record's lifetime from the
// caller's cancellation context: an in-flight write completes even if
// the request that produced it is cancelled.
type InteractionRecorder interface {
	Record(rec *Interaction)
}
