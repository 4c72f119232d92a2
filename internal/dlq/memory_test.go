package dlq

import (
	"context"
	"testing"
	"time"

	"pulsecore/internal/errkind"
	"pulsecore/internal/pulse"
	"pulsecore/internal/stream"
)

func testEntry(sequenceID int64) Entry {
	return Entry{
		Event: stream.Event{
			Kind:       stream.EventInsert,
			Pulse:      &pulse.Pulse{PulseID: "p1", UserID: "u1"},
			SequenceID: sequenceID,
		},
		ErrorKind:        errkind.KindTransient,
		Attempts:         3,
		FirstSeenAt:      time.Unix(0, 0),
		LastAttemptAt:    time.Unix(100, 0),
		LastErrorMessage: "model timeout",
	}
}

func TestMemoryQueue_EnqueueAndList(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Enqueue(context.Background(), testEntry(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	entries, err := q.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Event.SequenceID != 1 {
		t.Fatalf("expected one entry with sequence 1, got %+v", entries)
	}
}

func TestMemoryQueue_RemoveDropsEntry(t *testing.T) {
	q := NewMemoryQueue()
	q.Enqueue(context.Background(), testEntry(1))
	q.Enqueue(context.Background(), testEntry(2))

	if err := q.Remove(context.Background(), 1); err != nil {
		t.Fatalf("remove: %v", err)
	}
	entries, _ := q.List(context.Background())
	if len(entries) != 1 || entries[0].Event.SequenceID != 2 {
		t.Fatalf("expected only sequence 2 left, got %+v", entries)
	}
}

func TestMemoryQueue_RemoveUnknownSequenceIsNoOp(t *testing.T) {
	q := NewMemoryQueue()
	q.Enqueue(context.Background(), testEntry(1))
	if err := q.Remove(context.Background(), 999); err != nil {
		t.Fatalf("expected no error removing an unknown sequence id, got %v", err)
	}
	entries, _ := q.List(context.Background())
	if len(entries) != 1 {
		t.Fatalf("expected the existing entry to remain, got %+v", entries)
	}
}
