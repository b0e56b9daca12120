// Package gateway exposes the envelope protocol over WebSocket and
// HTTP, authenticated by platform connection credentials.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"agentmesh/internal/domain"
)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	conn      *domain.Connection
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// Server accepts envelopes over WebSocket frames and HTTP POST and
// forwards bus events to connected WebSocket clients.
type Server struct {
	auth       Authenticator
	handler    *Handler
	bus        domain.EventBus
	logger     *slog.Logger
	addr       string
	clients    sync.Map // connID (uint64) -> *clientConn
	nextID     atomic.Uint64
	httpSrv    *http.Server
	boundAddr  string
	unsubAll   func()
	middleware []func(http.Handler) http.Handler
}

// NewServer creates a gateway server listening on addr.
func NewServer(auth Authenticator, handler *Handler, bus domain.EventBus, addr string, logger *slog.Logger) *Server {
	return &Server{
		auth:    auth,
		handler: handler,
		bus:     bus,
		logger:  logger,
		addr:    addr,
	}
}

// Use appends HTTP middleware around the whole mux, applied in the
// order given. Must be called before Start.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

// Start begins accepting connections. Blocks until ctx is cancelled or
// the listener fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/v1/envelope", s.handleEnvelopePost)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	var handler http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}
	s.httpSrv = &http.Server{Handler: handler}

	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(func(_ context.Context, event domain.Event) {
			payload, err := json.Marshal(event)
			if err != nil {
				return
			}
			frame := Frame{Type: FrameTypeEvent, Event: payload}
			s.clients.Range(func(_, value any) bool {
				cc := value.(*clientConn)
				// Events are tenant-scoped: a client only sees its own.
				if event.TenantID != "" && event.TenantID != cc.conn.TenantID {
					return true
				}
				select {
				case cc.sendCh <- frame:
				default:
					s.logger.Warn("gateway: dropped event for slow client")
				}
				return true
			})
		})
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubAll != nil {
		s.unsubAll()
	}

	s.clients.Range(func(key, value any) bool {
		cc := value.(*clientConn)
		cc.closeOnce.Do(func() { close(cc.done) })
		cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})

	if s.httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// BoundAddr returns the actual address the server bound to. Only valid
// after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

// credentialFrom extracts the bearer credential from the Authorization
// header, falling back to the credential query parameter for WebSocket
// clients that cannot set headers.
func credentialFrom(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if cred, ok := strings.CutPrefix(header, "Bearer "); ok {
			return cred
		}
	}
	return r.URL.Query().Get("credential")
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.auth.Authenticate(r.Context(), credentialFrom(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		conn:   conn,
		ws:     ws,
		sendCh: make(chan Frame, 64),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected",
		"conn_id", connID, "connection_id", conn.ID, "platform", conn.Platform)

	go s.writeLoop(cc)

	s.readLoop(r.Context(), cc)

	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		err := wsjson.Read(ctx, cc.ws, &frame)
		if err != nil {
			return // connection closed or error
		}

		if frame.Type != FrameTypeRequest || frame.Envelope == nil {
			continue
		}

		go s.dispatch(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cc *clientConn, req Frame) {
	resp := s.handler.Handle(ctx, cc.conn, *req.Envelope)
	frame := Frame{
		Type:     FrameTypeResponse,
		ID:       req.ID,
		Response: &resp,
	}
	select {
	case cc.sendCh <- frame:
	default:
		s.logger.Warn("gateway: dropped response for slow client", "frame_id", req.ID)
	}
}

func (s *Server) handleEnvelopePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.auth.Authenticate(r.Context(), credentialFrom(r))
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, domain.ErrConnectionDisabled) {
			status = http.StatusForbidden
		}
		http.Error(w, "unauthorized", status)
		return
	}

	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, errResponse(
			domain.NewDomainError("Gateway.Envelope", domain.ErrEnvelopeInvalid, err.Error())))
		return
	}

	resp := s.handler.Handle(r.Context(), conn, env)
	status := statusFor(resp)
	if resp.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", resp.RetryAfterSeconds))
	}
	writeJSON(w, status, resp)
}

func statusFor(resp Response) int {
	if resp.Success {
		return http.StatusOK
	}
	switch resp.Code {
	case domain.CodeAdmissionRejected:
		return http.StatusTooManyRequests
	case domain.CodeAgentNotFound, domain.CodeSkillNotFound:
		return http.StatusNotFound
	case domain.CodeTenantMismatch, domain.CodeConnectionDisabled:
		return http.StatusForbidden
	case domain.CodeEnvelopeInvalid, domain.CodeRequestTypeUnknown,
		domain.CodeInvalidInput, domain.CodeTargetTenantRequired,
		domain.CodeInvalidCommunication:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
