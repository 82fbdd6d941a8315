package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type sessionStream struct {
	seq    uint64
	closed bool
	subs   map[uint64]*Subscription
}

// Hub fans session events out to subscribers and sinks.
type Hub struct {
	mu          sync.Mutex
	sessions    map[string]*sessionStream
	nextSubID   uint64
	bufferSize  int
	sinks       []Sink
	sinkTimeout time.Duration
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// NewHub returns a Hub whose subscribers buffer up to bufferSize events.
func NewHub(bufferSize int, logger *slog.Logger, sinks ...Sink) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		sessions:    make(map[string]*sessionStream),
		bufferSize:  bufferSize,
		sinks:       sinks,
		sinkTimeout: 2 * time.Second,
		logger:      logger,
		nowFunc:     time.Now,
	}
}

func (h *Hub) stream(sessionID string) *sessionStream {
	st, ok := h.sessions[sessionID]
	if !ok {
		st = &sessionStream{subs: make(map[uint64]*Subscription)}
		h.sessions[sessionID] = st
	}
	return st
}

// Publish appends an event to the session stream. Events published after the
// session is closed are discarded.
func (h *Hub) Publish(ctx context.Context, sessionID string, typ EventType, payload any) Event {
	h.mu.Lock()
	st := h.stream(sessionID)
	if st.closed {
		h.mu.Unlock()
		h.logger.Warn("dropping event for closed session", "session_id", sessionID, "type", typ)
		return Event{}
	}
	st.seq++
	ev := Event{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       st.seq,
		Type:      typ,
		Time:      h.nowFunc(),
		Payload:   payload,
	}
	// Push under the hub lock so every subscriber sees the same order.
	for _, sub := range st.subs {
		sub.push(ev)
	}
	h.mu.Unlock()

	h.mirror(ctx, ev)
	return ev
}

func (h *Hub) mirror(ctx context.Context, ev Event) {
	for _, sink := range h.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.sinkTimeout)
		if err := sink.Publish(sinkCtx, ev); err != nil {
			h.logger.Warn("failed to mirror event", "sink", sink.Name(), "session_id", ev.SessionID, "seq", ev.Seq, "error", err)
		}
		cancel()
	}
}

// Subscribe attaches a subscriber to the session. Subscribing to a closed
// session yields a subscription that reports io.EOF immediately.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSubID++
	sub := newSubscription(h.nextSubID, h, sessionID, h.bufferSize)
	st := h.stream(sessionID)
	if st.closed {
		sub.close()
		return sub
	}
	st.subs[sub.id] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.sessions[sub.session]; ok {
		delete(st.subs, sub.id)
	}
}

// CloseSession ends the stream. Subscribers drain what is buffered, then get io.EOF.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.stream(sessionID)
	st.closed = true
	for id, sub := range st.subs {
		sub.close()
		delete(st.subs, id)
	}
}

// Forget drops bookkeeping for a closed session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.sessions[sessionID]; ok && st.closed {
		delete(h.sessions, sessionID)
	}
}

// Subscribers returns the number of attached subscribers.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.sessions[sessionID]; ok {
		return len(st.subs)
	}
	return 0
}

// Streams returns the number of session streams the hub retains.
func (h *Hub) Streams() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
