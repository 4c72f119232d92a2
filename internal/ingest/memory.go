package ingest

import (
	"context"
	"sync"

	"pulsecore/internal/clock"
	"pulsecore/internal/pulse"
)

// MemoryWriter is an in-process Writer backed by maps, used in tests and as
// the reference implementation for the idempotency contract that
// sqliteingest.Writer mirrors durably.
type MemoryWriter struct {
	clk  clock.Clock
	sink CompletionSink

	mu            sync.Mutex
	contentHashes map[string]string          // pulse_id -> ContentHash
	contributed   map[string]map[string]bool // user_id -> set of pulse_ids already counted
	totals        map[string]int64           // user_id -> total ingested count
}

// NewMemoryWriter builds a MemoryWriter. sink may be nil, in which case
// completion events are simply dropped.
func NewMemoryWriter(clk clock.Clock, sink CompletionSink) *MemoryWriter {
	return &MemoryWriter{
		clk:           clk,
		sink:          sink,
		contentHashes: make(map[string]string),
		contributed:   make(map[string]map[string]bool),
		totals:        make(map[string]int64),
	}
}

// Persist writes p exactly once per pulse_id. A redelivery with identical
// content is a no-op success; a redelivery with different content is a
// conflict. The per-user aggregate is incremented only the first time a
// given pulse_id contributes to it, so a redelivered completion can never
// double-count (spec §4.5).
func (w *MemoryWriter) Persist(ctx context.Context, p *pulse.Pulse) (Ack, error) {
	hash := ContentHash(p)
	inverted := pulse.InvertTimestamp(p.StoppedAt)

	w.mu.Lock()
	defer w.mu.Unlock()

	if existing, ok := w.contentHashes[p.PulseID]; ok {
		if existing != hash {
			return Ack{}, ErrConflict
		}
		return Ack{PulseID: p.PulseID, AlreadyIngested: true, InvertedTimestamp: inverted}, nil
	}

	w.contentHashes[p.PulseID] = hash
	w.creditContributionLocked(p.UserID, p.PulseID)

	if w.sink != nil {
		w.sink.Record(ctx, CompletionEvent{
			PulseID:           p.PulseID,
			UserID:            p.UserID,
			InvertedTimestamp: inverted,
			PersistedAt:       w.clk.Now(),
		})
	}

	return Ack{PulseID: p.PulseID, InvertedTimestamp: inverted}, nil
}

// creditContributionLocked bumps the user's aggregate iff pulseID hasn't
// already been counted towards it. Caller holds w.mu.
func (w *MemoryWriter) creditContributionLocked(userID, pulseID string) {
	set, ok := w.contributed[userID]
	if !ok {
		set = make(map[string]bool)
		w.contributed[userID] = set
	}
	if set[pulseID] {
		return
	}
	set[pulseID] = true
	w.totals[userID]++
}

// TotalIngested returns the current aggregate count for userID.
func (w *MemoryWriter) TotalIngested(userID string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totals[userID]
}
