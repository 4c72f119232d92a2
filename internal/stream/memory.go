package stream

import (
	"context"
	"sync"
)

// MemorySource is an in-process Source backed by a buffered channel, used in
// tests and as a local-development stand-in for a real change-stream
// connection. Events are fed in with Publish and consumed in order.
type MemorySource struct {
	events chan Event

	mu     sync.Mutex
	acked  map[int64]bool
	closed bool
}

// NewMemorySource builds a MemorySource with the given buffer capacity.
func NewMemorySource(capacity int) *MemorySource {
	return &MemorySource{
		events: make(chan Event, capacity),
		acked:  make(map[int64]bool),
	}
}

// Publish enqueues event for delivery. Publish after Close panics, mirroring
// a send on a closed channel.
func (s *MemorySource) Publish(event Event) {
	s.events <- event
}

// Close signals that no further events will be published. Once the buffer
// drains past Close, Receive returns the zero Event with context.Canceled.
func (s *MemorySource) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()
}

// Receive blocks until an event is available, ctx is canceled, or the
// source is closed and drained.
func (s *MemorySource) Receive(ctx context.Context) (Event, error) {
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, context.Canceled
		}
		return event, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Ack records that SequenceID was acknowledged. Acked reports whether a
// given sequence id has been acked, for test assertions.
func (s *MemorySource) Ack(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked[event.SequenceID] = true
	return nil
}

// Acked reports whether sequenceID has been acknowledged.
func (s *MemorySource) Acked(sequenceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acked[sequenceID]
}

var _ Source = (*MemorySource)(nil)
