// Package dlq implements the dead-letter queue the Pipeline Orchestrator
// routes a pulse to once its retry budget is exhausted (spec §4.8): the
// original event plus a failure envelope (error kind, attempts, timestamps,
// last error), drained only by out-of-band operator tooling, never by the
// pipeline itself.
package dlq

import (
	"context"
	"time"

	"pulsecore/internal/errkind"
	"pulsecore/internal/stream"
)

// Entry is one dead-lettered event.
type Entry struct {
	Event            stream.Event
	ErrorKind        errkind.Kind
	Attempts         int
	FirstSeenAt      time.Time
	LastAttemptAt    time.Time
	LastErrorMessage string
}

// Queue persists dead-lettered entries for operator drainage. Enqueue must
// succeed before the orchestrator acks the source event (spec §4.8: "the
// source event is not acked until the DLQ write succeeds").
type Queue interface {
	Enqueue(ctx context.Context, entry Entry) error
	List(ctx context.Context) ([]Entry, error)
	// Remove deletes an entry by its event's SequenceID, used once an
	// operator has replayed it back onto the source. Remove on a
	// nonexistent sequence id is a no-op.
	Remove(ctx context.Context, sequenceID int64) error
}
