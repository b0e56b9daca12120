package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentmesh/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler(newTestLogger())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSchedulerActionFires(t *testing.T) {
	var count atomic.Int32

	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(ctx context.Context) error {
		count.Add(1)
		return nil
	})
	if err := s.AddTask(ScheduledTask{
		Name: "sweep", Schedule: "50ms", Action: ActionSessionSweep,
	}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if c := count.Load(); c < 1 {
		t.Errorf("action fired %d times, expected at least 1", c)
	}
}

func TestSchedulerUnknownAction(t *testing.T) {
	s := NewScheduler(newTestLogger())

	err := s.AddTask(ScheduledTask{
		Name: "unknown", Schedule: "100ms", Action: "does_not_exist",
	})
	if err == nil {
		t.Error("expected error for unknown action")
	}
}

func TestSchedulerInvalidSchedule(t *testing.T) {
	s := NewScheduler(newTestLogger())
	s.RegisterAction(ActionSessionSweep, func(context.Context) error { return nil })

	err := s.AddTask(ScheduledTask{
		Name: "bad", Schedule: "not-a-schedule", Action: ActionSessionSweep,
	})
	if err == nil {
		t.Error("expected error for invalid schedule")
	}
}

type sweepStore struct {
	mu    sync.Mutex
	swept int64
	err   error
	calls int
}

func (s *sweepStore) Create(context.Context, *domain.Session) error { return nil }
func (s *sweepStore) Get(context.Context, string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}
func (s *sweepStore) UpdateStatus(context.Context, string, domain.SessionStatus, *time.Time) error {
	return nil
}
func (s *sweepStore) ExpireBefore(context.Context, time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.swept, s.err
}

func TestSessionSweepPublishesEvent(t *testing.T) {
	store := &sweepStore{swept: 3}
	bus := &countingBus{}
	sweep := SessionSweep(store, bus, newTestLogger())

	if err := sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := bus.events.Load(); got != 1 {
		t.Errorf("events published = %d, want 1", got)
	}
}

func TestSessionSweepNothingToDo(t *testing.T) {
	store := &sweepStore{swept: 0}
	bus := &countingBus{}
	sweep := SessionSweep(store, bus, newTestLogger())

	if err := sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if got := bus.events.Load(); got != 0 {
		t.Errorf("events published = %d, want 0", got)
	}
}

func TestSessionSweepStoreError(t *testing.T) {
	store := &sweepStore{err: fmt.Errorf("db locked")}
	sweep := SessionSweep(store, nil, newTestLogger())

	if err := sweep(context.Background()); err == nil {
		t.Error("expected error from failing store")
	}
}

type countingBus struct {
	events atomic.Int32
}

func (b *countingBus) Publish(context.Context, domain.Event) { b.events.Add(1) }
func (b *countingBus) Subscribe(domain.EventType, domain.EventHandler) func() {
	return func() {}
}
func (b *countingBus) SubscribeAll(domain.EventHandler) func() {
	return func() {}
}
