package main

import (
	"context"
	"sync"

	"pulsecore/internal/ingest"
	"pulsecore/internal/pulse"
)

// profileStore is the composition root's own stand-in for
// orchestrator.ProfileSource. Nothing in the corpus or the spec assigns a
// name to wherever user tiers and completion history actually live in
// production (spec.md §1 treats identity/history as external systems this
// core only consumes), so this is deliberately minimal: Register sets a
// known user's tier and timezone but serve never calls it and loads no
// tier file, so unknown users (every user, in serve) default to the free
// tier, and history is folded in as completions are persisted rather than
// queried from a real store.
type profileStore struct {
	mu       sync.Mutex
	profiles map[string]pulse.UserProfile
	history  map[string]pulse.HistorySummary
}

func newProfileStore() *profileStore {
	return &profileStore{
		profiles: make(map[string]pulse.UserProfile),
		history:  make(map[string]pulse.HistorySummary),
	}
}

// Register pre-seeds a known user's tier and timezone.
func (s *profileStore) Register(profile pulse.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.UserID] = profile
}

func (s *profileStore) Profile(ctx context.Context, userID string) (pulse.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.profiles[userID]; ok {
		return p, nil
	}
	return pulse.UserProfile{UserID: userID, Tier: pulse.TierFree}, nil
}

func (s *profileStore) History(ctx context.Context, userID string) (pulse.HistorySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history[userID], nil
}

// Record implements ingest.CompletionSink: every newly-persisted pulse
// nudges its user's lifetime completion count and rolling history, the way
// a real profile service would after observing the same event.
func (s *profileStore) Record(ctx context.Context, event ingest.CompletionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[event.UserID]
	p.UserID = event.UserID
	if p.Tier == "" {
		p.Tier = pulse.TierFree
	}
	p.TotalCompletedPulses++
	s.profiles[event.UserID] = p

	h := s.history[event.UserID]
	h.CompletionsToday++
	s.history[event.UserID] = h
}

var _ ingest.CompletionSink = (*profileStore)(nil)

// fanoutSink dispatches one CompletionEvent to every sink it wraps, so the
// Ingest Writer's single CompletionSink slot can still feed both the audit
// log and the profile store.
type fanoutSink struct {
	sinks []ingest.CompletionSink
}

func (f fanoutSink) Record(ctx context.Context, event ingest.CompletionEvent) {
	for _, sink := range f.sinks {
		sink.Record(ctx, event)
	}
}

var _ ingest.CompletionSink = fanoutSink{}
