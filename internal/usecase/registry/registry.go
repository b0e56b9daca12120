// Package registry resolves agent identifiers into live runtime
// instances. Instances are cached per agent ID; tenant visibility is
// revalidated on every access so a cached instance can never be served
// across tenants.
package registry

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agentmesh/internal/domain"
	"agentmesh/internal/infra/tracer"
	"agentmesh/internal/usecase/eventbus"
)

// Constructor builds a runtime for one agent type. The table passed to
// New is closed: an agent record whose type has no entry is a
// configuration fault and fails that resolution.
type Constructor func(agent *domain.Agent) (domain.AgentRuntime, error)

// Registry caches constructed runtimes keyed by agent ID. Resolution
// is synchronized per agent, not globally: two concurrent resolves of
// different agents never contend on the same lock.
type Registry struct {
	directory    domain.Directory
	constructors map[domain.AgentType]Constructor
	bus          domain.EventBus
	logger       *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	mu       sync.Mutex
	refCount int
	runtime  domain.AgentRuntime
}

// New creates a Registry. bus may be nil.
func New(directory domain.Directory, constructors map[domain.AgentType]Constructor, bus domain.EventBus, logger *slog.Logger) *Registry {
	return &Registry{
		directory:    directory,
		constructors: constructors,
		bus:          bus,
		logger:       logger,
		slots:        make(map[string]*slot),
	}
}

// Resolve returns the runtime for agentID, constructing and caching it
// on first use. On a cache hit the agent record is re-fetched and its
// tenant compared against the cached instance; a changed record evicts
// the instance before a fresh lookup. Without allowCrossTenant the
// lookup is filtered to callerTenantID, so an agent outside the
// caller's tenant resolves to ErrAgentNotFound rather than revealing
// its existence.
func (r *Registry) Resolve(ctx context.Context, agentID, callerTenantID string, allowCrossTenant bool) (domain.AgentRuntime, error) {
	const op = "Registry.Resolve"

	ctx, span := tracer.StartSpan(ctx, op, trace.WithAttributes(
		attribute.String("agent.id", agentID),
		attribute.String("tenant.id", callerTenantID),
		attribute.Bool("cross_tenant", allowCrossTenant),
	))
	defer span.End()

	s, release := r.acquire(agentID)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime != nil {
		current, err := r.directory.Get(ctx, agentID)
		if err == nil && current.TenantID == s.runtime.Definition().TenantID {
			if !allowCrossTenant && current.TenantID != callerTenantID {
				return nil, domain.NewDomainError(op, domain.ErrAgentNotFound, "agent not visible to tenant "+callerTenantID)
			}
			return s.runtime, nil
		}
		// Record gone or moved tenants: the cached instance is stale.
		r.logger.Info("evicting stale runtime", "agent_id", agentID)
		s.runtime = nil
	}

	agent, err := r.directory.Get(ctx, agentID)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	if !allowCrossTenant && agent.TenantID != callerTenantID {
		return nil, domain.NewDomainError(op, domain.ErrAgentNotFound, "agent not visible to tenant "+callerTenantID)
	}

	ctor, ok := r.constructors[agent.Type]
	if !ok {
		err := domain.NewDomainError(op, domain.ErrUnknownAgentType, string(agent.Type))
		tracer.RecordError(span, err)
		r.logger.Error("no constructor for agent type", "agent_id", agentID, "type", agent.Type)
		return nil, err
	}

	rt, err := ctor(agent)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp(op, err)
	}
	s.runtime = rt

	r.logger.Info("runtime constructed",
		"agent_id", agent.ID, "type", agent.Type, "tenant_id", agent.TenantID)
	r.publishResolved(ctx, agent)

	return rt, nil
}

// ResolveByType resolves every agent of the given type within a
// tenant, each through the single-instance path so caching and tenant
// checks apply uniformly.
func (r *Registry) ResolveByType(ctx context.Context, typ domain.AgentType, tenantID string, activeOnly bool) ([]domain.AgentRuntime, error) {
	const op = "Registry.ResolveByType"

	agents, err := r.directory.List(ctx, domain.DirectoryFilter{
		TenantID:   tenantID,
		Type:       typ,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return r.resolveEach(ctx, agents, tenantID)
}

// ResolveBySkill resolves every agent in a tenant declaring the named
// skill.
func (r *Registry) ResolveBySkill(ctx context.Context, skill, tenantID string, activeOnly bool) ([]domain.AgentRuntime, error) {
	const op = "Registry.ResolveBySkill"

	agents, err := r.directory.List(ctx, domain.DirectoryFilter{
		TenantID:   tenantID,
		Skill:      skill,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return r.resolveEach(ctx, agents, tenantID)
}

func (r *Registry) resolveEach(ctx context.Context, agents []*domain.Agent, tenantID string) ([]domain.AgentRuntime, error) {
	runtimes := make([]domain.AgentRuntime, 0, len(agents))
	for _, agent := range agents {
		rt, err := r.Resolve(ctx, agent.ID, tenantID, false)
		if err != nil {
			// One misconfigured agent must not sink the whole listing.
			r.logger.Warn("skipping unresolvable agent", "agent_id", agent.ID, "error", err)
			continue
		}
		runtimes = append(runtimes, rt)
	}
	return runtimes, nil
}

// ClearCache evicts the named agents' cached runtimes, or every cached
// runtime when called with no arguments.
func (r *Registry) ClearCache(agentIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(agentIDs) == 0 {
		for id, s := range r.slots {
			s.mu.Lock()
			s.runtime = nil
			s.mu.Unlock()
			if s.refCount == 0 {
				delete(r.slots, id)
			}
		}
		return
	}
	for _, id := range agentIDs {
		if s, ok := r.slots[id]; ok {
			s.mu.Lock()
			s.runtime = nil
			s.mu.Unlock()
			if s.refCount == 0 {
				delete(r.slots, id)
			}
		}
	}
}

// CachedCount returns the number of live cached runtimes.
func (r *Registry) CachedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, s := range r.slots {
		s.mu.Lock()
		if s.runtime != nil {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// acquire returns the agent's slot with its refcount raised. The
// release func drops the refcount and removes empty slots so the map
// does not grow unbounded with one-off agent IDs.
func (r *Registry) acquire(agentID string) (*slot, func()) {
	r.mu.Lock()
	s, ok := r.slots[agentID]
	if !ok {
		s = &slot{}
		r.slots[agentID] = s
	}
	s.refCount++
	r.mu.Unlock()

	return s, func() {
		r.mu.Lock()
		s.refCount--
		if s.refCount == 0 && s.runtime == nil {
			delete(r.slots, agentID)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) publishResolved(ctx context.Context, agent *domain.Agent) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(ctx, eventbus.NewEvent(domain.EventAgentResolved, agent.TenantID, agent.ID,
		eventbus.ResolutionPayload{AgentID: agent.ID, Type: string(agent.Type)}))
}
