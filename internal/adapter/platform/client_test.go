package platform

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agentmesh/internal/adapter/gateway"
	"agentmesh/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDeliverPostsEnvelope(t *testing.T) {
	var gotAuth string
	var gotEnv gateway.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotEnv)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := NewClient(time.Second, discardLogger())
	conn := &domain.Connection{ID: "c1", Platform: "marketplace", Endpoint: srv.URL, Credential: "tok"}

	err := c.Deliver(context.Background(), conn, gateway.Envelope{
		Type:     "event.session.started",
		TenantID: "t1",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotEnv.Type != "event.session.started" || gotEnv.TenantID != "t1" {
		t.Errorf("envelope = %+v", gotEnv)
	}
}

func TestDeliverEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(time.Second, discardLogger())
	conn := &domain.Connection{ID: "c1", Platform: "marketplace", Endpoint: srv.URL, Credential: "tok"}

	if err := c.Deliver(context.Background(), conn, gateway.Envelope{Type: "event.x"}); err == nil {
		t.Fatal("expected delivery error")
	}
}

func TestDeliverMissingEndpoint(t *testing.T) {
	c := NewClient(time.Second, discardLogger())
	conn := &domain.Connection{ID: "c1", Platform: "marketplace"}

	if err := c.Deliver(context.Background(), conn, gateway.Envelope{Type: "event.x"}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}

type listConnStore struct {
	mu    sync.Mutex
	conns []*domain.Connection
}

func (s *listConnStore) Create(context.Context, *domain.Connection) error { return nil }
func (s *listConnStore) Get(context.Context, string) (*domain.Connection, error) {
	return nil, domain.ErrConnectionNotFound
}
func (s *listConnStore) GetByCredential(context.Context, string) (*domain.Connection, error) {
	return nil, domain.ErrConnectionNotFound
}
func (s *listConnStore) ListByTenant(_ context.Context, tenantID string) ([]*domain.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Connection
	for _, c := range s.conns {
		if c.TenantID == tenantID {
			out = append(out, c)
		}
	}
	return out, nil
}
func (s *listConnStore) IncrementUsage(context.Context, string, time.Time) error { return nil }
func (s *listConnStore) SetEnabled(context.Context, string, bool) error          { return nil }

type syncBus struct {
	handlers []domain.EventHandler
}

func (b *syncBus) Publish(ctx context.Context, event domain.Event) {
	for _, h := range b.handlers {
		h(ctx, event)
	}
}
func (b *syncBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *syncBus) SubscribeAll(handler domain.EventHandler) func() {
	b.handlers = append(b.handlers, handler)
	return func() { b.handlers = nil }
}

func TestNotifierForwardsTenantEvents(t *testing.T) {
	var mu sync.Mutex
	var delivered []gateway.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env gateway.Envelope
		json.NewDecoder(r.Body).Decode(&env)
		mu.Lock()
		delivered = append(delivered, env)
		mu.Unlock()
	}))
	defer srv.Close()

	store := &listConnStore{conns: []*domain.Connection{
		{ID: "c1", TenantID: "t1", Platform: "marketplace", Endpoint: srv.URL, Credential: "tok", Enabled: true},
		{ID: "c2", TenantID: "t1", Platform: "disabled", Endpoint: srv.URL, Credential: "tok", Enabled: false},
	}}

	n := NewNotifier(NewClient(time.Second, discardLogger()), store, discardLogger())
	bus := &syncBus{}
	n.Start(bus)
	defer n.Stop()

	bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventSessionStarted,
		Timestamp: time.Now().UTC(),
		TenantID:  "t1",
		AgentID:   "a1",
	})
	// Untenanted events are not forwarded.
	bus.Publish(context.Background(), domain.Event{Type: domain.EventSessionStarted})

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 {
		t.Fatalf("delivered = %d envelopes, want 1", len(delivered))
	}
	if delivered[0].Type != "event.session.started" || delivered[0].TenantID != "t1" {
		t.Errorf("envelope = %+v", delivered[0])
	}
}
