// Package platform delivers outbound envelopes to the endpoints stored
// on gateway connections. Delivery is best-effort: failures are logged,
// never retried, and never block coordination work.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"agentmesh/internal/adapter/gateway"
	"agentmesh/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	maxErrorBodyLen = 1024
)

// Client posts envelopes to a connection's registered endpoint.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a delivery client.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Deliver posts env to the connection's endpoint, authenticated with
// the connection's own credential.
func (c *Client) Deliver(ctx context.Context, conn *domain.Connection, env gateway.Envelope) error {
	if conn.Endpoint == "" {
		return fmt.Errorf("connection %s has no endpoint", conn.ID)
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+conn.Credential)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", conn.Platform, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return fmt.Errorf("deliver to %s: status %d: %s", conn.Platform, resp.StatusCode, string(body))
	}
	return nil
}

// Notifier forwards bus events to every enabled connection of the
// event's tenant. Untenanted events are not forwarded.
type Notifier struct {
	client      *Client
	connections domain.ConnectionStore
	logger      *slog.Logger
	unsub       func()
}

// NewNotifier creates a notifier. Call Start to begin forwarding.
func NewNotifier(client *Client, connections domain.ConnectionStore, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:      client,
		connections: connections,
		logger:      logger,
	}
}

// Start subscribes to the bus. Each delivery runs on the bus handler's
// goroutine with its own timeout.
func (n *Notifier) Start(bus domain.EventBus) {
	n.unsub = bus.SubscribeAll(func(_ context.Context, event domain.Event) {
		if event.TenantID == "" {
			return
		}
		n.forward(event)
	})
}

// Stop unsubscribes from the bus.
func (n *Notifier) Stop() {
	if n.unsub != nil {
		n.unsub()
	}
}

func (n *Notifier) forward(event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	conns, err := n.connections.ListByTenant(ctx, event.TenantID)
	if err != nil {
		n.logger.Warn("event forward: connection listing failed",
			"tenant_id", event.TenantID, "error", err)
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	env := gateway.Envelope{
		Type:      "event." + string(event.Type),
		Payload:   payload,
		TenantID:  event.TenantID,
		Timestamp: event.Timestamp,
	}

	for _, conn := range conns {
		if !conn.Enabled || conn.Endpoint == "" {
			continue
		}
		if err := n.client.Deliver(ctx, conn, env); err != nil {
			n.logger.Warn("event delivery failed",
				"connection_id", conn.ID, "platform", conn.Platform, "error", err)
		}
	}
}
