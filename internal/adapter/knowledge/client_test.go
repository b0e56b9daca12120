package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentmesh/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestHTTPSearcherSearch(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search" {
			t.Errorf("path = %q, want /v1/search", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(searchResponse{
			Items: []domain.KnowledgeItem{
				{Content: "vendor alpha ships in 2 days", Score: 0.92},
				{Content: "vendor beta backordered", Score: 0.41},
			},
		})
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL, time.Second, discardLogger())
	items, err := s.Search(context.Background(), "shipping speed", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].Content == "" || items[0].Score != 0.92 {
		t.Errorf("item = %+v", items[0])
	}
	if gotReq.Query != "shipping speed" || gotReq.Limit != 2 {
		t.Errorf("request = %+v", gotReq)
	}
}

func TestHTTPSearcherDefaultLimit(t *testing.T) {
	var gotReq searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(searchResponse{})
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL, time.Second, discardLogger())
	if _, err := s.Search(context.Background(), "q", 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if gotReq.Limit != defaultResultLimit {
		t.Errorf("Limit = %d, want %d", gotReq.Limit, defaultResultLimit)
	}
}

func TestHTTPSearcherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL, time.Second, discardLogger())
	_, err := s.Search(context.Background(), "q", 1)
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
}

type failingSearcher struct {
	calls int
}

func (f *failingSearcher) Search(ctx context.Context, query string, limit int) ([]domain.KnowledgeItem, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingSearcher{}
	s := NewCircuitBreakerSearcher(inner, discardLogger())
	ctx := context.Background()

	for i := 0; i < int(defaultCBMaxFailures); i++ {
		s.Search(ctx, "q", 1)
	}
	if s.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", s.State())
	}

	// Open circuit fails fast without touching the backend.
	before := inner.calls
	_, err := s.Search(ctx, "q", 1)
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
	if inner.calls != before {
		t.Error("open circuit still reached the backend")
	}
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(searchResponse{Items: []domain.KnowledgeItem{{Content: "x", Score: 1}}})
	}))
	defer srv.Close()

	s := NewCircuitBreakerSearcher(NewHTTPSearcher(srv.URL, time.Second, discardLogger()), discardLogger())
	items, err := s.Search(context.Background(), "q", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(items) != 1 {
		t.Errorf("items = %d, want 1", len(items))
	}
	if s.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}
