package domain

import "context"

// AgentRuntime is the behavioral contract every agent instance
// implements: skill dispatch, session lifecycle, and peer invocation.
// Concrete runtimes form a closed set selected by AgentType.
type AgentRuntime interface {
	// Definition returns the backing agent record.
	Definition() *Agent

	// HasSkill reports whether the runtime can execute the named skill.
	// Callers check before invoking; ExecuteSkill additionally rejects
	// unknown skills with ErrSkillNotFound.
	HasSkill(skill string) bool

	// ExecuteSkill runs one skill. Every attempt — success or failure —
	// produces exactly one Interaction record.
	ExecuteSkill(ctx context.Context, skill string, input map[string]any) (map[string]any, error)

	// StartSession opens a new active session bound to this instance.
	// Fails with ErrSessionActive if one is already current.
	StartSession(ctx context.Context, contextID, contextType string) (*Session, error)

	// EndSession moves the current session to a terminal status.
	EndSession(ctx context.Context, status SessionStatus) error

	// CurrentSession returns the current session, or nil.
	CurrentSession() *Session

	// CallOtherAgent invokes a skill on a peer agent. Internal mode is
	// constrained to the caller's tenant; external mode requires
	// targetTenantID and is the only cross-tenant path.
	CallOtherAgent(ctx context.Context, targetAgentID, skill string, input map[string]any, commType CommunicationType, targetTenantID string) (map[string]any, error)
}

// Resolver resolves agent identifiers into live runtimes. Implemented
// by the registry; consumed by runtimes for peer calls.
type Resolver interface {
	Resolve(ctx context.Context, agentID, callerTenantID string, allowCrossTenant bool) (AgentRuntime, error)
}
