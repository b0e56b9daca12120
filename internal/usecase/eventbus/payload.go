package eventbus

import (
	"encoding/json"
	"time"

	"agentmesh/internal/domain"
)

// Typed payloads for the events this layer publishes. Subscribers
// decode Event.Payload into the type matching the event's Type.

// SessionPayload accompanies EventSessionStarted and EventSessionEnded.
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// InteractionPayload accompanies EventInteractionRecorded.
type InteractionPayload struct {
	InteractionID string `json:"interaction_id"`
	Skill         string `json:"skill"`
	Success       bool   `json:"success"`
}

// RejectionPayload accompanies EventAdmissionRejected.
type RejectionPayload struct {
	BreachedTier      string `json:"breached_tier"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// ResolutionPayload accompanies EventAgentResolved.
type ResolutionPayload struct {
	AgentID string `json:"agent_id"`
	Type    string `json:"type"`
}

// SweepPayload accompanies EventSessionExpired. The sweep crosses
// tenants, so the event itself carries no tenant scope.
type SweepPayload struct {
	Count int64 `json:"count"`
}

// DispatchPayload accompanies EventGatewayDispatched.
type DispatchPayload struct {
	ConnectionID string `json:"connection_id"`
	Platform     string `json:"platform"`
	Skill        string `json:"skill"`
	Success      bool   `json:"success"`
}

// NewEvent builds a bus event carrying the JSON encoding of payload.
// A payload that fails to marshal yields an event without one; the
// event itself is still worth delivering.
func NewEvent(typ domain.EventType, tenantID, agentID string, payload any) domain.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return domain.Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		AgentID:   agentID,
		Payload:   data,
	}
}
