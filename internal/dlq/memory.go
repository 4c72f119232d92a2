package dlq

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Queue backed by a slice, used in tests and by
// the orchestrator's unit tests to assert dead-lettering behavior without a
// database.
type MemoryQueue struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, entry Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, entry)
	return nil
}

func (q *MemoryQueue) List(ctx context.Context) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out, nil
}

func (q *MemoryQueue) Remove(ctx context.Context, sequenceID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.Event.SequenceID == sequenceID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
