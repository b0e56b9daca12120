package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.Default() }

// failingCounter always errors, simulating an unreachable store.
type failingCounter struct {
	calls int
}

func (f *failingCounter) Incr(context.Context, string, time.Duration) (int64, error) {
	f.calls++
	return 0, fmt.Errorf("connection refused")
}

func testScope() Scope {
	return Scope{AgentID: "agent-1", TenantID: "tenant-1", UserID: "user-1"}
}

func TestAdmitUnderLimit(t *testing.T) {
	l := New(nil, testLogger())
	d := l.Admit(context.Background(), testScope(), Limits{})
	require.True(t, d.Allowed)
	assert.Empty(t, d.BreachedTier)
	assert.Zero(t, d.RetryAfter)
	assert.Equal(t, int64(1), d.Counts[TierAgentMinute])
}

func TestAdmitBreachesAgentMinute(t *testing.T) {
	l := New(nil, testLogger())
	limits := Limits{AgentMinute: Limit{Count: 10, Window: time.Minute}}
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		d := l.Admit(ctx, testScope(), limits)
		require.True(t, d.Allowed, "call %d should be admitted", i)
	}

	d := l.Admit(ctx, testScope(), limits)
	require.False(t, d.Allowed)
	assert.Equal(t, TierAgentMinute, d.BreachedTier)
	assert.Equal(t, int64(11), d.Counts[TierAgentMinute])
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestAdmitReadmitsAfterWindow(t *testing.T) {
	l := New(nil, testLogger())
	now := time.Now()
	l.fallback.now = func() time.Time { return now }
	limits := Limits{AgentMinute: Limit{Count: 10, Window: time.Minute}}
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		l.Admit(ctx, testScope(), limits)
	}
	require.False(t, l.Admit(ctx, testScope(), limits).Allowed)

	now = now.Add(61 * time.Second)
	d := l.Admit(ctx, testScope(), limits)
	require.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Counts[TierAgentMinute])
}

func TestAdmitShortCircuitsRemainingTiers(t *testing.T) {
	l := New(nil, testLogger())
	limits := Limits{AgentMinute: Limit{Count: 1, Window: time.Minute}}
	ctx := context.Background()

	l.Admit(ctx, testScope(), limits)
	d := l.Admit(ctx, testScope(), limits)
	require.False(t, d.Allowed)

	// Tiers after the breach were never incremented-checked.
	assert.NotContains(t, d.Counts, TierAgentHour)
	assert.NotContains(t, d.Counts, TierTenantMinute)
}

func TestAdmitBreachIncrementNotRolledBack(t *testing.T) {
	l := New(nil, testLogger())
	limits := Limits{AgentMinute: Limit{Count: 2, Window: time.Minute}}
	ctx := context.Background()

	l.Admit(ctx, testScope(), limits)
	l.Admit(ctx, testScope(), limits)
	d1 := l.Admit(ctx, testScope(), limits)
	d2 := l.Admit(ctx, testScope(), limits)

	require.False(t, d1.Allowed)
	require.False(t, d2.Allowed)
	// The rejecting increments kept counting.
	assert.Equal(t, int64(4), d2.Counts[TierAgentMinute])
}

func TestAdmitMissingUserSkipsUserTiers(t *testing.T) {
	l := New(nil, testLogger())
	scope := Scope{AgentID: "agent-1", TenantID: "tenant-1"}
	// A user limit of 0-would-breach must not matter without a user.
	limits := Limits{UserMinute: Limit{Count: 1, Window: time.Minute}}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := l.Admit(ctx, scope, limits)
		require.True(t, d.Allowed)
		assert.NotContains(t, d.Counts, TierUserMinute)
		assert.NotContains(t, d.Counts, TierUserHour)
	}
}

func TestAdmitDisabledTierNeverIncremented(t *testing.T) {
	l := New(nil, testLogger())
	limits := Limits{AgentMinute: Limit{Count: -1, Window: time.Minute}}
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		d := l.Admit(ctx, testScope(), limits)
		require.True(t, d.Allowed)
		assert.NotContains(t, d.Counts, TierAgentMinute)
	}
}

func TestAdmitTierCheckOrder(t *testing.T) {
	l := New(nil, testLogger())
	// Both agent-minute and tenant-minute would breach on the second
	// call; agent-minute must be the one reported.
	limits := Limits{
		AgentMinute:  Limit{Count: 1, Window: time.Minute},
		TenantMinute: Limit{Count: 1, Window: time.Minute},
	}
	ctx := context.Background()

	l.Admit(ctx, testScope(), limits)
	d := l.Admit(ctx, testScope(), limits)
	require.False(t, d.Allowed)
	assert.Equal(t, TierAgentMinute, d.BreachedTier)
}

func TestAdmitFallsBackWhenPrimaryFails(t *testing.T) {
	primary := &failingCounter{}
	l := New(primary, testLogger())
	limits := Limits{AgentMinute: Limit{Count: 2, Window: time.Minute}}
	ctx := context.Background()

	// Primary fails; the local fallback still enforces the limit.
	require.True(t, l.Admit(ctx, testScope(), limits).Allowed)
	require.True(t, l.Admit(ctx, testScope(), limits).Allowed)
	d := l.Admit(ctx, testScope(), limits)
	require.False(t, d.Allowed)
	assert.Equal(t, TierAgentMinute, d.BreachedTier)

	// Primary was only attempted once per request (first tier), then the
	// whole request degraded locally.
	assert.Equal(t, 3, primary.calls)
}

func TestAdmitConcurrentExactCount(t *testing.T) {
	l := New(nil, testLogger())
	limits := Limits{AgentMinute: Limit{Count: 20, Window: time.Minute}}
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, rejected := 0, 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := l.Admit(ctx, Scope{AgentID: "a", TenantID: "t"}, limits)
			mu.Lock()
			if d.Allowed {
				admitted++
			} else {
				rejected++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, admitted)
	assert.Equal(t, 30, rejected)
}
