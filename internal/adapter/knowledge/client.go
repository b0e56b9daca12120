// Package knowledge adapts an external knowledge-retrieval service to
// the coordination layer's searcher contract.
package knowledge

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
	_ domain.KnowledgeSearcher = (*HTTPSearcher)(nil)
	_ domain.KnowledgeSearcher = (*CircuitBreakerSearcher)(nil)
)

const (
	defaultTimeout     = 10 * time.Second
	maxResponseBytes   = 4 * 1024 * 1024
	defaultResultLimit = 5
)

// HTTPSearcher queries a knowledge-retrieval HTTP service.
type HTTPSearcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSearcher creates a searcher against baseURL.
func NewHTTPSearcher(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPSearcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Items []domain.KnowledgeItem `json:"items"`
}

// Search implements domain.KnowledgeSearcher.
func (s *HTTPSearcher) Search(ctx context.Context, query string, limit int) ([]domain.KnowledgeItem, error) {
	if limit <= 0 {
		limit = defaultResultLimit
	}

	payload, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderError, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrProviderError, httpResp.StatusCode, string(body))
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return resp.Items, nil
}

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerSearcher wraps a KnowledgeSearcher with circuit breaker
// protection. When the retrieval service fails repeatedly, the circuit
// opens and calls fail fast instead of queuing on a dead backend.
type CircuitBreakerSearcher struct {
	inner   domain.KnowledgeSearcher
	breaker *gobreaker.CircuitBreaker[[]domain.KnowledgeItem]
}

// NewCircuitBreakerSearcher wraps inner with a circuit breaker using
// default thresholds.
func NewCircuitBreakerSearcher(inner domain.KnowledgeSearcher, logger *slog.Logger) *CircuitBreakerSearcher {
	cb := gobreaker.NewCircuitBreaker[[]domain.KnowledgeItem](gobreaker.Settings{
		Name:        "knowledge",
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

	return &CircuitBreakerSearcher{inner: inner, breaker: cb}
}

// Search implements domain.KnowledgeSearcher. Calls are routed through
// the circuit breaker.
func (s *CircuitBreakerSearcher) Search(ctx context.Context, query string, limit int) ([]domain.KnowledgeItem, error) {
	items, err := s.breaker.Execute(func() ([]domain.KnowledgeItem, error) {
		return s.inner.Search(ctx, query, limit)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrProviderError, err)
		}
		return nil, err
	}
	return items, nil
}

// State returns the current circuit breaker state for monitoring.
func (s *CircuitBreakerSearcher) State() gobreaker.State {
	return s.breaker.State()
}
