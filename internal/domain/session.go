package domain

import (
	"context"
	"time"
)

// SessionStatus is the lifecycle state of a session.
// Transitions: active → completed | error. Terminal states are final.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"
)

// Terminal reports whether the status is a final state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusError
}

// Session is a bounded interaction context grouping skill executions
// under one external reference. AgentID is immutable after creation.
type Session struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	TenantID    string        `json:"tenant_id"`
	ContextID   string        `json:"context_id"`
	ContextType string        `json:"context_type"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	ExpiresAt   time.Time     `json:"expires_at"`
}

// SessionStore persists sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// UpdateStatus moves an active session to the given status and stamps
	// completed_at for terminal states. AgentID and TenantID never change.
	// Updating a session already in a terminal state returns
	// ErrSessionTerminal.
	UpdateStatus(ctx context.Context, id string, status SessionStatus, completedAt *time.Time) error
	// ExpireBefore marks active sessions whose expires_at precedes cutoff
	// as errored. Returns the number of sessions swept.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
