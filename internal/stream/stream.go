package stream

import (
	"context"
	"sync"
	"time"
)

// Kind classifies a workflow event.
type Kind string

const (
	KindSchemeCreated        Kind = "scheme.created"
	KindApplicationSubmitted Kind = "application.submitted"
	KindApplicationDecided   Kind = "application.decided"
)

// Event describes one completed portal mutation, pushed to panels so they can refresh.
type Event struct {
	Kind          Kind      `json:"kind"`
	SchemeName    string    `json:"scheme_name"`
	ApplicationID int64     `json:"application_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	SubmittedBy   string    `json:"submitted_by,omitempty"`
	Actor         string    `json:"actor"`
	Timestamp     time.Time `json:"timestamp"`
}

// Stream fan-outs workflow events to all active subscribers (SSE clients).
type Stream struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	buffer int
}

// New initialises an empty stream. Each subscriber gets a buffer of 16 events.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event), buffer: 16}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
