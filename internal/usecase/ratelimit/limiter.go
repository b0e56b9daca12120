package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Tier identifiers, in check order. Minute windows are checked before
// hour windows so the reported breach is deterministic.
const (
	TierAgentMinute  = "agent_minute"
	TierAgentHour    = "agent_hour"
	TierTenantMinute = "tenant_minute"
	TierTenantHour   = "tenant_hour"
	TierUserMinute   = "user_minute"
	TierUserHour     = "user_hour"
)

// Scope names the identities a call is counted against. UserID is
// optional; when empty the user tiers are skipped entirely.
type Scope struct {
	AgentID  string
	TenantID string
	UserID   string
}

// Limit is one (count, window) pair. A Count <= 0 disables the tier:
// its counter is never incremented.
type Limit struct {
	Count  int64
	Window time.Duration
}

// Limits carries the per-tier limits for one admission check.
type Limits struct {
	AgentMinute  Limit
	AgentHour    Limit
	TenantMinute Limit
	TenantHour   Limit
	UserMinute   Limit
	UserHour     Limit
}

// DefaultLimits are applied for any tier left zero-valued.
func DefaultLimits() Limits {
	return Limits{
		AgentMinute:  Limit{Count: 10, Window: time.Minute},
		AgentHour:    Limit{Count: 100, Window: time.Hour},
		TenantMinute: Limit{Count: 50, Window: time.Minute},
		TenantHour:   Limit{Count: 500, Window: time.Hour},
		UserMinute:   Limit{Count: 20, Window: time.Minute},
		UserHour:     Limit{Count: 200, Window: time.Hour},
	}
}

// Decision is the admission result. Rejection is a value, not an
// error, so callers implement backoff without exception-driven control
// flow.
type Decision struct {
	Allowed      bool
	BreachedTier string
	Counts       map[string]int64
	// RetryAfter is the breached tier's window, a hint for the caller's
	// retry header. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter applies three-tier admission control using a primary shared
// counter and a process-local fallback. Primary failures degrade the
// request to the fallback; only an unexpected fallback failure fails
// open.
type Limiter struct {
	primary  Counter
	fallback *LocalCounter
	logger   *slog.Logger
}

// New creates a limiter. primary may be nil, in which case every check
// runs against the local fallback (single-process deployments).
func New(primary Counter, logger *slog.Logger) *Limiter {
	return &Limiter{
		primary:  primary,
		fallback: NewLocalCounter(),
		logger:   logger,
	}
}

type tierCheck struct {
	name  string
	key   string
	limit Limit
}

// Admit decides whether one call may proceed. Tiers are evaluated in
// fixed order — agent, tenant, user; minute before hour — and the
// first breach short-circuits. The increment that detected the breach
// is intentionally not rolled back: slight over-counting on rejection
// is cheaper than a second store round trip.
func (l *Limiter) Admit(ctx context.Context, scope Scope, limits Limits) Decision {
	applyDefaults(&limits)

	checks := []tierCheck{
		{TierAgentMinute, counterKey("agent", scope.AgentID, "minute"), limits.AgentMinute},
		{TierAgentHour, counterKey("agent", scope.AgentID, "hour"), limits.AgentHour},
		{TierTenantMinute, counterKey("tenant", scope.TenantID, "minute"), limits.TenantMinute},
		{TierTenantHour, counterKey("tenant", scope.TenantID, "hour"), limits.TenantHour},
	}
	if scope.UserID != "" {
		checks = append(checks,
			tierCheck{TierUserMinute, counterKey("user", scope.UserID, "minute"), limits.UserMinute},
			tierCheck{TierUserHour, counterKey("user", scope.UserID, "hour"), limits.UserHour},
		)
	}

	counts := make(map[string]int64, len(checks))
	store := l.primary
	degraded := store == nil

	for _, check := range checks {
		if check.limit.Count <= 0 {
			continue // tier disabled, never incremented
		}

		var n int64
		var err error
		if !degraded {
			n, err = store.Incr(ctx, check.key, check.limit.Window)
			if err != nil {
				// Shared store unreachable: degrade this whole request
				// to the local counter. Not accurate across processes.
				l.logger.Warn("counter store unreachable, using local fallback",
					"tier", check.name, "error", err)
				degraded = true
			}
		}
		if degraded {
			n, err = l.fallback.Incr(ctx, check.key, check.limit.Window)
			if err != nil {
				// Unexpected fallback failure: fail open. Availability
				// wins over strict admission for unexpected errors.
				l.logger.Error("local counter failed, admitting without count",
					"tier", check.name, "error", err)
				continue
			}
		}

		counts[check.name] = n
		if n > check.limit.Count {
			return Decision{
				Allowed:      false,
				BreachedTier: check.name,
				Counts:       counts,
				RetryAfter:   check.limit.Window,
			}
		}
	}

	return Decision{Allowed: true, Counts: counts}
}

// SweepLocal drops expired windows from the local fallback counter.
// Intended to run on a schedule so long-degraded processes do not
// accumulate dead keys.
func (l *Limiter) SweepLocal() {
	l.fallback.Sweep()
}

func applyDefaults(limits *Limits) {
	defaults := DefaultLimits()
	if limits.AgentMinute == (Limit{}) {
		limits.AgentMinute = defaults.AgentMinute
	}
	if limits.AgentHour == (Limit{}) {
		limits.AgentHour = defaults.AgentHour
	}
	if limits.TenantMinute == (Limit{}) {
		limits.TenantMinute = defaults.TenantMinute
	}
	if limits.TenantHour == (Limit{}) {
		limits.TenantHour = defaults.TenantHour
	}
	if limits.UserMinute == (Limit{}) {
		limits.UserMinute = defaults.UserMinute
	}
	if limits.UserHour == (Limit{}) {
		limits.UserHour = defaults.UserHour
	}
}

func counterKey(scope, id, window string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", scope, id, window)
}
