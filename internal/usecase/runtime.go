package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"agentmesh/internal/domain"
	"agentmesh/internal/infra/tracer"
	"agentmesh/internal/usecase/eventbus"
)

// SkillFunc is one registered skill body. Bodies are domain-specific
// and pluggable; the runtime around them is not.
type SkillFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// RuntimeDeps carries the collaborators a runtime needs. Recorder,
// Sessions, Resolver, Knowledge, LLM and Bus may each be nil; the
// runtime degrades the corresponding feature instead of panicking.
type RuntimeDeps struct {
	Recorder   domain.InteractionRecorder
	Sessions   domain.SessionStore
	Resolver   domain.Resolver
	Knowledge  domain.KnowledgeSearcher
	LLM        domain.LLMProvider
	Bus        domain.EventBus
	Logger     *slog.Logger
	SessionTTL time.Duration
}

const defaultSessionTTL = 30 * time.Minute

// BaseRuntime implements the execution contract shared by every agent
// type: skill dispatch with interaction logging, the session
// lifecycle, and peer invocation. Concrete agent types register their
// skill bodies on top of it.
type BaseRuntime struct {
	agent *domain.Agent
	deps  RuntimeDeps

	mu      sync.Mutex
	skills  map[string]SkillFunc
	session *domain.Session
}

// NewBaseRuntime creates a runtime for the given agent record.
func NewBaseRuntime(agent *domain.Agent, deps RuntimeDeps) *BaseRuntime {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.SessionTTL <= 0 {
		deps.SessionTTL = defaultSessionTTL
	}
	return &BaseRuntime{
		agent:  agent,
		deps:   deps,
		skills: make(map[string]SkillFunc),
	}
}

// RegisterSkill binds a skill body to a name. Later registrations of
// the same name replace earlier ones.
func (r *BaseRuntime) RegisterSkill(name string, fn SkillFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[name] = fn
}

// Definition returns the backing agent record.
func (r *BaseRuntime) Definition() *domain.Agent { return r.agent }

// HasSkill reports whether a body is registered for the named skill.
func (r *BaseRuntime) HasSkill(skill string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.skills[skill]
	return ok
}

// ExecuteSkill dispatches one skill invocation. Every attempt, unknown
// skill included, produces exactly one interaction record.
func (r *BaseRuntime) ExecuteSkill(ctx context.Context, skill string, input map[string]any) (map[string]any, error) {
	const op = "BaseRuntime.ExecuteSkill"

	ctx, span := tracer.StartSpan(ctx, op, trace.WithAttributes(
		tracer.StringAttr("agent.id", r.agent.ID),
		tracer.StringAttr("skill", skill),
	))
	defer span.End()

	start := time.Now()

	r.mu.Lock()
	fn, ok := r.skills[skill]
	r.mu.Unlock()

	if !ok {
		err := domain.NewDomainError(op, domain.ErrSkillNotFound, skill)
		r.recordExecution(skill, input, nil, start, err, "", domain.CommunicationInternal, "")
		tracer.RecordError(span, err)
		return nil, err
	}

	output, err := fn(ctx, input)
	if err != nil {
		r.deps.Logger.Error("skill execution failed",
			"agent_id", r.agent.ID, "skill", skill, "error", err)
		wrapped := domain.WrapOp(op, fmt.Errorf("%w: %w", domain.ErrSkillExecution, err))
		r.recordExecution(skill, input, nil, start, wrapped, "", domain.CommunicationInternal, "")
		tracer.RecordError(span, wrapped)
		return nil, wrapped
	}

	r.recordExecution(skill, input, output, start, nil, "", domain.CommunicationInternal, "")
	tracer.SetOK(span)
	return output, nil
}

// StartSession opens a new session. Only one non-terminal session may
// be current per instance.
func (r *BaseRuntime) StartSession(ctx context.Context, contextID, contextType string) (*domain.Session, error) {
	const op = "BaseRuntime.StartSession"

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil && !r.session.Status.Terminal() {
		return nil, domain.NewDomainError(op, domain.ErrSessionActive, r.session.ID)
	}

	now := time.Now()
	s := &domain.Session{
		ID:          ulid.Make().String(),
		AgentID:     r.agent.ID,
		TenantID:    r.agent.TenantID,
		ContextID:   contextID,
		ContextType: contextType,
		Status:      domain.SessionStatusActive,
		StartedAt:   now,
		ExpiresAt:   now.Add(r.deps.SessionTTL),
	}

	if r.deps.Sessions != nil {
		if err := r.deps.Sessions.Create(ctx, s); err != nil {
			return nil, domain.WrapOp(op, fmt.Errorf("%w: %w", domain.ErrStorageFailure, err))
		}
	}
	r.session = s

	r.deps.Logger.Info("session started",
		"session_id", s.ID, "agent_id", r.agent.ID, "context_type", contextType)
	r.publish(ctx, domain.EventSessionStarted, s.ID)

	return s, nil
}

// EndSession moves the current session to a terminal status. Terminal
// sessions never reopen.
func (r *BaseRuntime) EndSession(ctx context.Context, status domain.SessionStatus) error {
	const op = "BaseRuntime.EndSession"

	if !status.Terminal() {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "end status must be terminal, got "+string(status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return domain.NewDomainError(op, domain.ErrSessionNotFound, "no current session")
	}
	if r.session.Status.Terminal() {
		return domain.NewDomainError(op, domain.ErrSessionTerminal, r.session.ID)
	}

	now := time.Now()
	if r.deps.Sessions != nil {
		if err := r.deps.Sessions.UpdateStatus(ctx, r.session.ID, status, &now); err != nil {
			return domain.WrapOp(op, fmt.Errorf("%w: %w", domain.ErrStorageFailure, err))
		}
	}
	r.session.Status = status
	r.session.CompletedAt = &now

	r.deps.Logger.Info("session ended",
		"session_id", r.session.ID, "agent_id", r.agent.ID, "status", status)
	r.publish(ctx, domain.EventSessionEnded, r.session.ID)

	return nil
}

// CurrentSession returns the current session, terminal or not, or nil
// when none was ever started.
func (r *BaseRuntime) CurrentSession() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// CallOtherAgent invokes a skill on a peer agent. The caller records
// one interaction covering the whole call, nested execution included;
// the callee independently records its own inbound interaction. Calls
// rejected before dispatch leave no record: an external interaction
// always names its target tenant, and unknown communication types
// never enter the audit trail.
//
// There is no depth or cycle bound on peer calls: a call graph that
// cycles exhausts per-hop timeout budgets rather than failing fast.
func (r *BaseRuntime) CallOtherAgent(ctx context.Context, targetAgentID, skill string, input map[string]any, commType domain.CommunicationType, targetTenantID string) (map[string]any, error) {
	const op = "BaseRuntime.CallOtherAgent"

	ctx, span := tracer.StartSpan(ctx, op, trace.WithAttributes(
		tracer.StringAttr("agent.id", r.agent.ID),
		tracer.StringAttr("target.id", targetAgentID),
		tracer.StringAttr("communication", string(commType)),
	))
	defer span.End()

	if !commType.Valid() {
		err := domain.NewDomainError(op, domain.ErrInvalidCommunication, string(commType))
		tracer.RecordError(span, err)
		return nil, err
	}
	if commType == domain.CommunicationExternal && targetTenantID == "" {
		err := domain.NewDomainError(op, domain.ErrTargetTenantRequired, targetAgentID)
		tracer.RecordError(span, err)
		return nil, err
	}

	start := time.Now()
	output, err := r.dispatchPeerCall(ctx, targetAgentID, skill, input, commType, targetTenantID)

	recordedTarget := ""
	if commType == domain.CommunicationExternal {
		recordedTarget = targetTenantID
	}
	r.recordExecution(skill, input, output, start, err, targetAgentID, commType, recordedTarget)

	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	tracer.SetOK(span)
	return output, nil
}

func (r *BaseRuntime) dispatchPeerCall(ctx context.Context, targetAgentID, skill string, input map[string]any, commType domain.CommunicationType, targetTenantID string) (map[string]any, error) {
	const op = "BaseRuntime.CallOtherAgent"

	if r.deps.Resolver == nil {
		return nil, domain.NewDomainError(op, domain.ErrAgentNotFound, "no resolver configured")
	}

	var (
		target domain.AgentRuntime
		err    error
	)
	switch commType {
	case domain.CommunicationInternal:
		// Internal mode never crosses tenants, even when a target tenant
		// is (incorrectly) supplied.
		if targetTenantID != "" && targetTenantID != r.agent.TenantID {
			return nil, domain.NewDomainError(op, domain.ErrTenantMismatch,
				"internal call cannot target tenant "+targetTenantID)
		}
		target, err = r.deps.Resolver.Resolve(ctx, targetAgentID, r.agent.TenantID, false)
	case domain.CommunicationExternal:
		target, err = r.deps.Resolver.Resolve(ctx, targetAgentID, targetTenantID, true)
	}
	if err != nil {
		return nil, err
	}

	if !target.HasSkill(skill) {
		return nil, domain.NewDomainError(op, domain.ErrSkillNotFound,
			fmt.Sprintf("agent %s does not expose %s", targetAgentID, skill))
	}

	r.deps.Logger.Info("calling peer agent",
		"from", r.agent.ID, "to", targetAgentID, "skill", skill, "communication", commType)

	return target.ExecuteSkill(ctx, skill, input)
}

// QueryKnowledgeBase searches the knowledge-retrieval service. Lookup
// failures degrade to an empty result with a warning; they never
// become the skill's error.
func (r *BaseRuntime) QueryKnowledgeBase(ctx context.Context, query string, limit int) []domain.KnowledgeItem {
	if r.deps.Knowledge == nil {
		return nil
	}
	items, err := r.deps.Knowledge.Search(ctx, query, limit)
	if err != nil {
		r.deps.Logger.Warn("knowledge search degraded to empty results",
			"agent_id", r.agent.ID, "error", err)
		return nil
	}
	return items
}

// CallLanguageModel generates text from the provider. Provider
// failures degrade to a placeholder with a warning; they never become
// the skill's error.
func (r *BaseRuntime) CallLanguageModel(ctx context.Context, prompt string, knowledge []domain.KnowledgeItem) string {
	const placeholder = "[language model unavailable]"

	if r.deps.LLM == nil {
		return placeholder
	}
	text, err := r.deps.LLM.Generate(ctx, prompt, knowledge)
	if err != nil {
		r.deps.Logger.Warn("language model degraded to placeholder",
			"agent_id", r.agent.ID, "provider", r.deps.LLM.Name(), "error", err)
		return placeholder
	}
	return text
}

// recordExecution builds and enqueues the interaction record for one
// attempt. The recorder owns the record's lifetime from here on.
func (r *BaseRuntime) recordExecution(skill string, input, output map[string]any, start time.Time, execErr error, agentCalled string, commType domain.CommunicationType, targetTenantID string) {
	if r.deps.Recorder == nil {
		return
	}

	rec := &domain.Interaction{
		ID:                uuid.New().String(),
		AgentID:           r.agent.ID,
		TenantID:          r.agent.TenantID,
		Skill:             skill,
		Input:             input,
		Output:            output,
		DurationMS:        time.Since(start).Milliseconds(),
		Success:           execErr == nil,
		CommunicationType: commType,
		TargetTenantID:    targetTenantID,
		AgentCalled:       agentCalled,
		CreatedAt:         time.Now(),
	}
	if execErr != nil {
		rec.ErrorMessage = execErr.Error()
	}

	r.mu.Lock()
	if r.session != nil && !r.session.Status.Terminal() {
		rec.SessionID = r.session.ID
	}
	r.mu.Unlock()

	r.deps.Recorder.Record(rec)
}

func (r *BaseRuntime) publish(ctx context.Context, typ domain.EventType, sessionID string) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(ctx, eventbus.NewEvent(typ, r.agent.TenantID, r.agent.ID,
		eventbus.SessionPayload{SessionID: sessionID}))
}
