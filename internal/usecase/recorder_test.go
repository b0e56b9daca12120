package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentmesh/internal/domain"
)

type memoryInteractionStore struct {
	mu   sync.Mutex
	recs []*domain.Interaction
	err  error
}

func (s *memoryInteractionStore) Append(_ context.Context, rec *domain.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memoryInteractionStore) ListByAgent(_ context.Context, tenantID, agentID string, limit int) ([]*domain.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Interaction
	for i := len(s.recs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.recs[i].TenantID == tenantID && s.recs[i].AgentID == agentID {
			out = append(out, s.recs[i])
		}
	}
	return out, nil
}

func (s *memoryInteractionStore) CountByAgent(_ context.Context, tenantID, agentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.recs {
		if rec.TenantID == tenantID && rec.AgentID == agentID {
			n++
		}
	}
	return n, nil
}

func (s *memoryInteractionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

func testInteraction(id string) *domain.Interaction {
	return &domain.Interaction{
		ID:                id,
		AgentID:           "a1",
		TenantID:          "t1",
		Skill:             "echo",
		Success:           true,
		CommunicationType: domain.CommunicationInternal,
		CreatedAt:         time.Now(),
	}
}

func TestRecorderWritesAsync(t *testing.T) {
	store := &memoryInteractionStore{}
	r := NewRecorder(store, nil, slog.Default(), 8, time.Second)

	r.Record(testInteraction("i1"))
	r.Record(testInteraction("i2"))
	r.Close()

	assert.Equal(t, 2, store.count())
}

func TestRecorderCloseDrainsQueue(t *testing.T) {
	store := &memoryInteractionStore{}
	r := NewRecorder(store, nil, slog.Default(), 64, time.Second)

	for i := 0; i < 50; i++ {
		r.Record(testInteraction(fmt.Sprintf("i%d", i)))
	}
	r.Close()

	assert.Equal(t, 50, store.count())
}

func TestRecorderDropsWhenClosed(t *testing.T) {
	store := &memoryInteractionStore{}
	r := NewRecorder(store, nil, slog.Default(), 8, time.Second)
	r.Close()

	// Must not panic or block.
	r.Record(testInteraction("late"))
	assert.Equal(t, 0, store.count())
}

func TestRecorderSurvivesStoreFailure(t *testing.T) {
	store := &memoryInteractionStore{err: fmt.Errorf("disk full")}
	r := NewRecorder(store, nil, slog.Default(), 8, time.Second)

	r.Record(testInteraction("i1"))
	r.Close()

	// The failure is logged, not propagated; the recorder stays usable.
	assert.Equal(t, 0, store.count())
}

func TestRecorderPublishesEvent(t *testing.T) {
	store := &memoryInteractionStore{}
	bus := &recordingBus{}
	r := NewRecorder(store, bus, slog.Default(), 8, time.Second)

	r.Record(testInteraction("i1"))
	r.Close()

	require.Equal(t, int32(1), bus.published.Load())
	assert.Equal(t, domain.EventInteractionRecorded, bus.lastType())
}

func TestRecorderConcurrentRecord(t *testing.T) {
	store := &memoryInteractionStore{}
	r := NewRecorder(store, nil, slog.Default(), 256, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Record(testInteraction(fmt.Sprintf("i%d", n)))
		}(i)
	}
	wg.Wait()
	r.Close()

	assert.Equal(t, 100, store.count())
}

type recordingBus struct {
	published atomic.Int32
	mu        sync.Mutex
	last      domain.EventType
}

func (b *recordingBus) Publish(_ context.Context, event domain.Event) {
	b.published.Add(1)
	b.mu.Lock()
	b.last = event.Type
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() {
	return func() {}
}

func (b *recordingBus) SubscribeAll(domain.EventHandler) func() {
	return func() {}
}

func (b *recordingBus) lastType() domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}
