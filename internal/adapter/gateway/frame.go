package gateway

import (
	"encoding/json"
	"time"

	"agentmesh/internal/domain"
)

// Request types carried in an envelope.
const (
	RequestSkillExecution = "skill_execution"
	RequestAgentQuery     = "agent_query"
	RequestAgentList      = "agent_list"
)

// Envelope is the protocol-neutral request shape accepted over both
// WebSocket frames and HTTP POST.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TenantID  string          `json:"tenant_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// Response is the uniform reply for every envelope.
type Response struct {
	Success bool             `json:"success"`
	Result  any              `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	Code    domain.ErrorCode `json:"code,omitempty"`
	// RetryAfterSeconds is set only on admission rejections.
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

// SkillExecutionRequest asks for one skill run on the first matching
// active agent of the given type in the connection's tenant.
type SkillExecutionRequest struct {
	AgentType domain.AgentType `json:"agent_type"`
	Skill     string           `json:"skill"`
	InputData map[string]any   `json:"input_data,omitempty"`
}

// AgentQueryRequest searches the tenant's agents by free-text query
// and optional type/skill filters. No execution happens.
type AgentQueryRequest struct {
	Query     string           `json:"query,omitempty"`
	AgentType domain.AgentType `json:"agent_type,omitempty"`
	Skill     string           `json:"skill,omitempty"`
}

// AgentListRequest lists the tenant's agents with optional filters.
type AgentListRequest struct {
	AgentType domain.AgentType `json:"agent_type,omitempty"`
	Skill     string           `json:"skill,omitempty"`
}

// FrameType identifies the kind of frame on the WebSocket connection.
type FrameType string

const (
	FrameTypeRequest  FrameType = "request"
	FrameTypeResponse FrameType = "response"
	FrameTypeEvent    FrameType = "event"
)

// Frame is the WebSocket wrapper: requests carry an envelope, responses
// carry the reply, events carry bus notifications. ID correlates a
// response with its request.
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       uint64          `json:"id,omitempty"`
	Envelope *Envelope       `json:"envelope,omitempty"`
	Response *Response       `json:"response,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
}
