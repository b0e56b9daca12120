package llm

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

func TestHTTPProviderGenerate(t *testing.T) {
	var gotReq generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/generate" {
			t.Errorf("path = %q, want /v1/generate", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(generateResponse{Text: "vendor looks reliable"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-model", time.Second, discardLogger())
	text, err := p.Generate(context.Background(), "assess this vendor", []domain.KnowledgeItem{
		{Content: "ships on time", Score: 0.9},
		{Content: "few complaints", Score: 0.7},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "vendor looks reliable" {
		t.Errorf("text = %q", text)
	}
	if gotReq.Model != "test-model" || gotReq.Prompt != "assess this vendor" {
		t.Errorf("request = %+v", gotReq)
	}
	if len(gotReq.Context) != 2 || gotReq.Context[0] != "ships on time" {
		t.Errorf("context = %v", gotReq.Context)
	}
}

func TestHTTPProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, "test-model", time.Second, discardLogger())
	_, err := p.Generate(context.Background(), "prompt", nil)
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
}

func TestHTTPProviderName(t *testing.T) {
	p := NewHTTPProvider("http://localhost", "gpt-4o-mini", 0, discardLogger())
	if p.Name() != "gpt-4o-mini" {
		t.Errorf("Name = %q", p.Name())
	}
}

type failingProvider struct {
	calls int
}

func (f *failingProvider) Generate(ctx context.Context, prompt string, knowledge []domain.KnowledgeItem) (string, error) {
	f.calls++
	return "", errors.New("connection refused")
}

func (f *failingProvider) Name() string { return "failing" }

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingProvider{}
	p := NewCircuitBreakerProvider(inner, discardLogger())
	ctx := context.Background()

	for i := 0; i < int(defaultCBMaxFailures); i++ {
		p.Generate(ctx, "prompt", nil)
	}
	if p.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", p.State())
	}

	before := inner.calls
	_, err := p.Generate(ctx, "prompt", nil)
	if !errors.Is(err, domain.ErrProviderError) {
		t.Errorf("err = %v, want ErrProviderError", err)
	}
	if inner.calls != before {
		t.Error("open circuit still reached the provider")
	}
}

type echoProvider struct{}

func (echoProvider) Generate(ctx context.Context, prompt string, knowledge []domain.KnowledgeItem) (string, error) {
	return "echo: " + prompt, nil
}

func (echoProvider) Name() string { return "echo" }

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	p := NewCircuitBreakerProvider(echoProvider{}, discardLogger())

	text, err := p.Generate(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "echo: hello" {
		t.Errorf("text = %q", text)
	}
	if p.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", p.State())
	}
}
