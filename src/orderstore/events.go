package orderstore

import (
	"sync"
	"time"

	"rektbot/src/model"
)

// Event carries the committed state of an order after a mutation.
type Event struct {
	Order    model.Order
	Previous model.Status
	Deleted  bool
	At       time.Time
}

// Subscription is an unbounded event queue. Ready fires at least once after events were queued.
type Subscription struct {
	mu     sync.Mutex
	queue  []Event
	ready  chan struct{}
	closed bool
}

func newSubscription() *Subscription {
	return &Subscription{ready: make(chan struct{}, 1)}
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled when events are waiting.
func (s *Subscription) Ready() <-chan struct{} {
	return s.ready
}

// Drain returns and clears the queued events in emission order.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Len is the number of queued events.
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops delivery and drops queued events.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
}
