// Package llm adapts an external language-model HTTP service to the
// coordination layer's provider contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"agentmesh/internal/domain"
)

// Compile-time interface assertions.
var (
	_ domain.LLMProvider = (*HTTPProvider)(nil)
	_ domain.LLMProvider = (*CircuitBreakerProvider)(nil)
)

const (
	defaultTimeout   = 60 * time.Second
	maxResponseBytes = 10 * 1024 * 1024
)

// HTTPProvider calls a generation endpoint that accepts a prompt plus
// optional retrieved context and returns completion text.
type HTTPProvider struct {
	baseURL string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPProvider creates a provider against baseURL using model.
func NewHTTPProvider(baseURL, model string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Context []string `json:"context,omitempty"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate implements domain.LLMProvider. Retrieved knowledge is passed
// to the service as plain context strings ordered by relevance.
func (p *HTTPProvider) Generate(ctx context.Context, prompt string, knowledge []domain.KnowledgeItem) (string, error) {
	req := generateRequest{Model: p.model, Prompt: prompt}
	for _, item := range knowledge {
		req.Context = append(req.Context, item.Content)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderError, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", domain.ErrProviderError, httpResp.StatusCode, string(body))
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}

	return resp.Text, nil
}

// Name implements domain.LLMProvider.
func (p *HTTPProvider) Name() string { return p.model }

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerProvider wraps an LLMProvider with circuit breaker
// protection. When the wrapped provider fails repeatedly, the circuit
// opens and subsequent calls fail fast without reaching the provider,
// preventing retry storms.
type CircuitBreakerProvider struct {
	inner   domain.LLMProvider
	breaker *gobreaker.CircuitBreaker[string]
}

// NewCircuitBreakerProvider wraps inner with a circuit breaker using
// default thresholds.
func NewCircuitBreakerProvider(inner domain.LLMProvider, logger *slog.Logger) *CircuitBreakerProvider {
	name := inner.Name()
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "llm:" + name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    defaultCBInterval,
		Timeout:     defaultCBTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultCBMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &CircuitBreakerProvider{inner: inner, breaker: cb}
}

// Generate implements domain.LLMProvider. Calls are routed through the
// circuit breaker.
func (p *CircuitBreakerProvider) Generate(ctx context.Context, prompt string, knowledge []domain.KnowledgeItem) (string, error) {
	text, err := p.breaker.Execute(func() (string, error) {
		return p.inner.Generate(ctx, prompt, knowledge)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return "", fmt.Errorf("%w: provider %q circuit open: %v", domain.ErrProviderError, p.inner.Name(), err)
		}
		return "", err
	}
	return text, nil
}

// Name implements domain.LLMProvider.
func (p *CircuitBreakerProvider) Name() string { return p.inner.Name() }

// State returns the current circuit breaker state for monitoring.
func (p *CircuitBreakerProvider) State() gobreaker.State {
	return p.breaker.State()
}
