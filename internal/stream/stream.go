// Package stream defines the inbound change-stream contract the Pipeline
// Orchestrator consumes (spec §4.8, §6): an ordered, partitioned feed of
// Stopped-pulse events, INSERT-only, with an explicit Ack per event.
package stream

import (
	"context"
	"fmt"

	"pulsecore/internal/errkind"
	"pulsecore/internal/pulse"
)

// EventKind is the mutation kind carried by a change-stream record. Only
// EventInsert is processed by the core; others are filtered at the
// orchestrator boundary (spec §6).
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventModify EventKind = "MODIFY"
	EventRemove EventKind = "REMOVE"
)

// Event is one change-stream record.
type Event struct {
	Kind         EventKind
	Pulse        *pulse.Pulse
	SequenceID   int64
	PartitionKey string
}

// Source is an ordered, partitioned, at-least-once change-stream feed.
// Receive blocks until an event is available, ctx is done, or the source is
// closed (MemorySource reports a closed, drained source by returning the
// zero Event with context.Canceled).
// Ack acknowledges SequenceID within PartitionKey so it won't be redelivered
// by this source — redelivery from upstream retries is still possible and
// is exactly what the orchestrator's dedupe and the Ingest Writer's
// idempotency exist to absorb.
type Source interface {
	Receive(ctx context.Context) (Event, error)
	Ack(ctx context.Context, event Event) error
}

// Validate reports whether event carries the minimum shape the orchestrator
// needs to process it. An error classified as errkind.KindPoison means the
// event is Poison (spec §7): retrying it will reproduce the same failure, so
// it must be dead-lettered rather than retried. An event kind other than
// EventInsert returns an unclassified error.
func Validate(event Event) error {
	if event.Kind != EventInsert {
		return fmt.Errorf("stream: unexpected event kind %q reached Validate (should have been filtered)", event.Kind)
	}
	if event.Pulse == nil {
		return errkind.Wrap(errkind.KindPoison, fmt.Errorf("stream: event %d has no pulse payload", event.SequenceID))
	}
	if !event.Pulse.Valid() {
		return errkind.Wrap(errkind.KindPoison, fmt.Errorf("stream: event %d carries an invalid pulse %q", event.SequenceID, event.Pulse.PulseID))
	}
	if event.Pulse.Phase != pulse.PhaseStopped {
		return errkind.Wrap(errkind.KindPoison, fmt.Errorf("stream: event %d pulse %q is in phase %q, expected %q", event.SequenceID, event.Pulse.PulseID, event.Pulse.Phase, pulse.PhaseStopped))
	}
	return nil
}
