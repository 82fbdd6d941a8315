package broadcast

import (
	"context"
	"io"
	"sync"
)

// Subscription is one subscriber's ordered queue. When the queue is full the
// oldest buffered event is overwritten; delivery order is never changed.
type Subscription struct {
	id      uint64
	hub     *Hub
	session string

	mu      sync.Mutex
	buf     []Event
	head    int // read position
	count   int
	dropped uint64
	closed  bool
	notify  chan struct{}
}

func newSubscription(id uint64, hub *Hub, session string, size int) *Subscription {
	if size <= 0 {
		size = 64
	}
	return &Subscription{
		id:      id,
		hub:     hub,
		session: session,
		buf:     make([]Event, size),
		notify:  make(chan struct{}, 1),
	}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	size := len(s.buf)
	if s.count == size {
		// Overwrite: advance head to skip the oldest event
		s.head = (s.head + 1) % size
		s.count--
		s.dropped++
	}
	s.buf[(s.head+s.count)%size] = ev
	s.count++
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

// Next returns the next event, blocking until one is available. It returns
// io.EOF once the stream is closed and drained.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.count > 0 {
			ev := s.buf[s.head]
			s.buf[s.head] = Event{}
			s.head = (s.head + 1) % len(s.buf)
			s.count--
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, io.EOF
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Dropped returns how many events were discarded under backpressure.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Buffered returns the number of queued events.
func (s *Subscription) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
	s.close()
}
