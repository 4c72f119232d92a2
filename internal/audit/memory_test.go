package audit

import (
	"context"
	"testing"
	"time"

	"pulsecore/internal/pulse"
)

func usageEvent(userID, pulseID string, decidedAt time.Time) pulse.AIUsageEvent {
	return pulse.AIUsageEvent{
		UserID:         userID,
		PulseID:        pulseID,
		DecidedAt:      decidedAt,
		DecisionReason: pulse.ReasonHighWorthiness,
		Outcome:        pulse.OutcomeAdmittedEnhanced,
	}
}

func TestMemoryStore_ByUserOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Record(context.Background(), usageEvent("u1", "p1", base))
	s.Record(context.Background(), usageEvent("u1", "p2", base.Add(time.Hour)))
	s.Record(context.Background(), usageEvent("u1", "p3", base.Add(2*time.Hour)))
	s.Record(context.Background(), usageEvent("u2", "p4", base.Add(3*time.Hour)))

	got, err := s.ByUser(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit to cap at 2 results, got %d", len(got))
	}
	if got[0].PulseID != "p3" || got[1].PulseID != "p2" {
		t.Fatalf("expected newest-first order, got %+v", got)
	}
}

func TestMemoryStore_ByPulseReturnsLatestMatch(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Record(context.Background(), usageEvent("u1", "p1", base))

	got, err := s.ByPulse(context.Background(), "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.PulseID != "p1" {
		t.Fatalf("expected to find event for p1, got %+v", got)
	}

	missing, err := s.ByPulse(context.Background(), "nonexistent")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for an unknown pulse id, got %+v err=%v", missing, err)
	}
}

func TestMemoryStore_SweepRemovesOnlyExpiredEvents(t *testing.T) {
	s := NewMemoryStore()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Record(context.Background(), usageEvent("u1", "old", old))
	s.Record(context.Background(), usageEvent("u1", "recent", recent))

	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	removed, err := s.Sweep(context.Background(), now, 90*24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected exactly one expired event removed, got %d", removed)
	}

	remaining, _ := s.ByUser(context.Background(), "u1", 0)
	if len(remaining) != 1 || remaining[0].PulseID != "recent" {
		t.Fatalf("expected only the recent event to survive, got %+v", remaining)
	}
}
