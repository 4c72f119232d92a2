package ingest

import (
	"context"
	"testing"
	"time"

	"pulsecore/internal/clock"
	"pulsecore/internal/pulse"
)

type recordingSink struct {
	events []CompletionEvent
}

func (s *recordingSink) Record(ctx context.Context, event CompletionEvent) {
	s.events = append(s.events, event)
}

func testIngestedPulse() *pulse.Pulse {
	stopped := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &pulse.Pulse{
		PulseID:                  "p1",
		UserID:                   "u1",
		Phase:                    pulse.PhaseIngested,
		GenTitle:                 "Cracked the bug",
		GenBadge:                 "Deep Thinker",
		AIEnhanced:               true,
		AICostCents:              2,
		EffectiveDurationSeconds: 900,
		StoppedAt:                stopped,
	}
}

func TestPersist_FirstWriteSucceeds(t *testing.T) {
	sink := &recordingSink{}
	w := NewMemoryWriter(&clock.Frozen{At: time.Unix(0, 0)}, sink)
	p := testIngestedPulse()

	ack, err := w.Persist(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.AlreadyIngested {
		t.Fatal("expected a fresh write, not AlreadyIngested")
	}
	if ack.InvertedTimestamp != pulse.InvertTimestamp(p.StoppedAt) {
		t.Fatalf("inverted timestamp mismatch: got %d", ack.InvertedTimestamp)
	}
	if len(sink.events) != 1 || sink.events[0].PulseID != "p1" {
		t.Fatalf("expected exactly one completion event, got %+v", sink.events)
	}
	if got := w.TotalIngested("u1"); got != 1 {
		t.Fatalf("expected aggregate count 1, got %d", got)
	}
}

func TestPersist_IdenticalReplayIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	w := NewMemoryWriter(&clock.Frozen{At: time.Unix(0, 0)}, sink)
	p := testIngestedPulse()

	if _, err := w.Persist(context.Background(), p); err != nil {
		t.Fatalf("first persist: %v", err)
	}
	ack, err := w.Persist(context.Background(), p)
	if err != nil {
		t.Fatalf("replay persist: %v", err)
	}
	if !ack.AlreadyIngested {
		t.Fatal("expected the replay to be recognized as already ingested")
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected no new completion event on replay, got %d", len(sink.events))
	}
	if got := w.TotalIngested("u1"); got != 1 {
		t.Fatalf("expected aggregate count to stay at 1 after replay, got %d", got)
	}
}

func TestPersist_ConflictingReplayReturnsErrConflict(t *testing.T) {
	w := NewMemoryWriter(&clock.Frozen{At: time.Unix(0, 0)}, nil)
	p := testIngestedPulse()
	if _, err := w.Persist(context.Background(), p); err != nil {
		t.Fatalf("first persist: %v", err)
	}

	mutated := testIngestedPulse()
	mutated.GenTitle = "A completely different title"
	if _, err := w.Persist(context.Background(), mutated); err == nil {
		t.Fatal("expected ErrConflict on mutated redelivery")
	}
}

func TestPersist_AggregateCountsEachPulseOnceAcrossDuplicateDeliveries(t *testing.T) {
	w := NewMemoryWriter(&clock.Frozen{At: time.Unix(0, 0)}, nil)

	p1 := testIngestedPulse()
	p2 := testIngestedPulse()
	p2.PulseID = "p2"

	// Simulate out-of-order duplicate delivery of both pulses.
	for _, p := range []*pulse.Pulse{p1, p2, p1, p2, p1} {
		if _, err := w.Persist(context.Background(), p); err != nil {
			t.Fatalf("persist %s: %v", p.PulseID, err)
		}
	}

	if got := w.TotalIngested("u1"); got != 2 {
		t.Fatalf("expected aggregate count 2 for two distinct pulses, got %d", got)
	}
}
