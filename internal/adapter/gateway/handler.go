package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agentmesh/internal/domain"
	"agentmesh/internal/infra/tracer"
	"agentmesh/internal/usecase/eventbus"
	"agentmesh/internal/usecase/ratelimit"
	"agentmesh/internal/usecase/registry"
)

// Handler turns authenticated envelopes into coordination-layer calls.
// Connection and tenant checks happen before any registry access.
type Handler struct {
	registry    *registry.Registry
	directory   domain.Directory
	connections domain.ConnectionStore
	limiter     *ratelimit.Limiter
	limits      ratelimit.Limits
	bus         domain.EventBus
	logger      *slog.Logger
}

// NewHandler creates an envelope handler.
func NewHandler(
	reg *registry.Registry,
	directory domain.Directory,
	connections domain.ConnectionStore,
	limiter *ratelimit.Limiter,
	limits ratelimit.Limits,
	bus domain.EventBus,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:    reg,
		directory:   directory,
		connections: connections,
		limiter:     limiter,
		limits:      limits,
		bus:         bus,
		logger:      logger,
	}
}

// Handle processes one envelope on behalf of conn. The envelope's
// tenant, when present, must match the connection's tenant; the
// connection's tenant is authoritative either way.
func (h *Handler) Handle(ctx context.Context, conn *domain.Connection, env Envelope) Response {
	ctx, span := tracer.StartSpan(ctx, "Gateway.Handle", trace.WithAttributes(
		attribute.String("envelope.type", env.Type),
		attribute.String("tenant.id", conn.TenantID),
	))
	defer span.End()

	if !conn.Enabled {
		return errResponse(domain.ErrConnectionDisabled)
	}
	if env.TenantID != "" && env.TenantID != conn.TenantID {
		return errResponse(domain.NewDomainError("Gateway.Handle", domain.ErrTenantMismatch,
			fmt.Sprintf("envelope tenant %q does not match connection tenant %q", env.TenantID, conn.TenantID)))
	}

	ctx = domain.ContextWithTenantID(ctx, conn.TenantID)
	if env.UserID != "" {
		ctx = domain.ContextWithUserID(ctx, env.UserID)
	}

	switch env.Type {
	case RequestSkillExecution:
		return h.handleSkillExecution(ctx, conn, env)
	case RequestAgentQuery:
		return h.handleAgentQuery(ctx, conn, env)
	case RequestAgentList:
		return h.handleAgentList(ctx, conn, env)
	default:
		return errResponse(domain.NewDomainError("Gateway.Handle", domain.ErrRequestTypeUnknown, env.Type))
	}
}

func (h *Handler) handleSkillExecution(ctx context.Context, conn *domain.Connection, env Envelope) Response {
	var req SkillExecutionRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errResponse(domain.NewDomainError("Gateway.SkillExecution", domain.ErrEnvelopeInvalid, err.Error()))
	}
	if req.AgentType == "" || req.Skill == "" {
		return errResponse(domain.NewDomainError("Gateway.SkillExecution", domain.ErrEnvelopeInvalid,
			"agent_type and skill are required"))
	}
	if !conn.SupportsType(req.AgentType) || !conn.SupportsSkill(req.Skill) {
		return errResponse(domain.NewDomainError("Gateway.SkillExecution", domain.ErrEnvelopeInvalid,
			fmt.Sprintf("connection %s does not permit %s/%s", conn.ID, req.AgentType, req.Skill)))
	}

	runtimes, err := h.registry.ResolveByType(ctx, req.AgentType, conn.TenantID, true)
	if err != nil {
		return errResponse(err)
	}
	var target domain.AgentRuntime
	for _, rt := range runtimes {
		if rt.HasSkill(req.Skill) {
			target = rt
			break
		}
	}
	if target == nil {
		return errResponse(domain.NewDomainError("Gateway.SkillExecution", domain.ErrSkillNotFound,
			fmt.Sprintf("no active %s agent with skill %q in tenant %s", req.AgentType, req.Skill, conn.TenantID)))
	}

	agent := target.Definition()
	decision := h.limiter.Admit(ctx, ratelimit.Scope{
		AgentID:  agent.ID,
		TenantID: conn.TenantID,
		UserID:   env.UserID,
	}, h.limits)
	if !decision.Allowed {
		h.publishRejection(ctx, conn.TenantID, agent.ID, decision)
		return Response{
			Success:           false,
			Error:             fmt.Sprintf("rate limit exceeded on %s", decision.BreachedTier),
			Code:              domain.CodeAdmissionRejected,
			RetryAfterSeconds: int64(decision.RetryAfter / time.Second),
		}
	}

	output, execErr := target.ExecuteSkill(ctx, req.Skill, req.InputData)

	// Usage counts dispatches, not skill outcomes.
	if err := h.connections.IncrementUsage(ctx, conn.ID, time.Now().UTC()); err != nil {
		h.logger.Warn("connection usage update failed", "connection_id", conn.ID, "error", err)
	}
	h.publishDispatched(ctx, conn, agent.ID, req.Skill, execErr == nil)

	if execErr != nil {
		return errResponse(execErr)
	}
	return Response{Success: true, Result: output}
}

func (h *Handler) handleAgentQuery(ctx context.Context, conn *domain.Connection, env Envelope) Response {
	var req AgentQueryRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		return errResponse(domain.NewDomainError("Gateway.AgentQuery", domain.ErrEnvelopeInvalid, err.Error()))
	}

	agents, err := h.directory.List(ctx, domain.DirectoryFilter{
		TenantID:   conn.TenantID,
		Type:       req.AgentType,
		Skill:      req.Skill,
		ActiveOnly: true,
	})
	if err != nil {
		return errResponse(err)
	}

	query := strings.ToLower(strings.TrimSpace(req.Query))
	summaries := make([]domain.AgentSummary, 0, len(agents))
	for _, a := range agents {
		if query != "" && !matchesQuery(a, query) {
			continue
		}
		summaries = append(summaries, summarize(a))
	}
	return Response{Success: true, Result: summaries}
}

func (h *Handler) handleAgentList(ctx context.Context, conn *domain.Connection, env Envelope) Response {
	var req AgentListRequest
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			return errResponse(domain.NewDomainError("Gateway.AgentList", domain.ErrEnvelopeInvalid, err.Error()))
		}
	}

	agents, err := h.directory.List(ctx, domain.DirectoryFilter{
		TenantID: conn.TenantID,
		Type:     req.AgentType,
		Skill:    req.Skill,
	})
	if err != nil {
		return errResponse(err)
	}

	summaries := make([]domain.AgentSummary, 0, len(agents))
	for _, a := range agents {
		summaries = append(summaries, summarize(a))
	}
	return Response{Success: true, Result: summaries}
}

func matchesQuery(a *domain.Agent, query string) bool {
	if strings.Contains(strings.ToLower(a.Name), query) {
		return true
	}
	for _, s := range a.Skills {
		if strings.Contains(strings.ToLower(s), query) {
			return true
		}
	}
	return false
}

func summarize(a *domain.Agent) domain.AgentSummary {
	return domain.AgentSummary{
		ID:     a.ID,
		Name:   a.Name,
		Type:   a.Type,
		Skills: a.Skills,
		Status: a.Status,
	}
}

func (h *Handler) publishRejection(ctx context.Context, tenantID, agentID string, decision ratelimit.Decision) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(ctx, eventbus.NewEvent(domain.EventAdmissionRejected, tenantID, agentID,
		eventbus.RejectionPayload{
			BreachedTier:      decision.BreachedTier,
			RetryAfterSeconds: int64(decision.RetryAfter / time.Second),
		}))
}

func (h *Handler) publishDispatched(ctx context.Context, conn *domain.Connection, agentID, skill string, success bool) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(ctx, eventbus.NewEvent(domain.EventGatewayDispatched, conn.TenantID, agentID,
		eventbus.DispatchPayload{
			ConnectionID: conn.ID,
			Platform:     conn.Platform,
			Skill:        skill,
			Success:      success,
		}))
}

func errResponse(err error) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Code:    domain.ErrorCodeOf(err),
	}
}
