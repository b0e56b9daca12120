package usecase

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agentmesh/internal/domain"
	"agentmesh/internal/usecase/eventbus"
)

const (
	defaultRecorderBuffer  = 256
	defaultRecorderTimeout = 5 * time.Second
)

// Recorder writes interaction records off the execution path. Records
// are queued on a buffered channel and persisted by a background
// goroutine using a detached context, so a caller-cancelled request
// never loses or stalls its audit record. A full buffer drops the
// record with an error log rather than blocking skill execution.
type Recorder struct {
	store   domain.InteractionStore
	bus     domain.EventBus
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	queue  chan *domain.Interaction
	done   chan struct{}
}

// NewRecorder creates the recorder and starts its writer goroutine.
// bufferSize and writeTimeout fall back to defaults when non-positive.
func NewRecorder(store domain.InteractionStore, bus domain.EventBus, logger *slog.Logger, bufferSize int, writeTimeout time.Duration) *Recorder {
	if bufferSize <= 0 {
		bufferSize = defaultRecorderBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultRecorderTimeout
	}
	r := &Recorder{
		store:   store,
		bus:     bus,
		logger:  logger,
		timeout: writeTimeout,
		queue:   make(chan *domain.Interaction, bufferSize),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Record enqueues one interaction. It never blocks: a full buffer or a
// closed recorder drops the record and logs the loss.
func (r *Recorder) Record(rec *domain.Interaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		r.logger.Error("interaction dropped, recorder closed",
			"interaction_id", rec.ID, "agent_id", rec.AgentID)
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Error("interaction dropped, buffer full",
			"interaction_id", rec.ID, "agent_id", rec.AgentID)
	}
}

// Close stops accepting records, drains the queue, and waits for the
// writer to finish. Safe to call more than once.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) loop() {
	for rec := range r.queue {
		r.write(rec)
	}
	close(r.done)
}

func (r *Recorder) write(rec *domain.Interaction) {
	// Detached from any caller context: the audit record is not
	// speculative and must survive request cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Append(ctx, rec); err != nil {
		r.logger.Error("interaction write failed",
			"interaction_id", rec.ID, "agent_id", rec.AgentID, "error", err)
		return
	}

	if r.bus != nil {
		r.bus.Publish(ctx, eventbus.NewEvent(domain.EventInteractionRecorded, rec.TenantID, rec.AgentID,
			eventbus.InteractionPayload{
				InteractionID: rec.ID,
				Skill:         rec.Skill,
				Success:       rec.Success,
			}))
	}
}
