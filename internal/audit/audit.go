// Package audit implements the AIUsageEvent store: the immutable audit
// record for every admission decision and enhancement outcome (spec
// GLOSSARY, §6), keyed by user and time, also indexable by pulse, and
// retained only for a bounded TTL.
package audit

import (
	"context"
	"time"

	"pulsecore/internal/pulse"
)

// Store persists AIUsageEvents and answers the two lookups the spec
// requires: by user (ordered newest-first) and by pulse.
type Store interface {
	Record(ctx context.Context, event pulse.AIUsageEvent) error
	ByUser(ctx context.Context, userID string, limit int) ([]pulse.AIUsageEvent, error)
	ByPulse(ctx context.Context, pulseID string) (*pulse.AIUsageEvent, error)
	// Sweep deletes events whose DecidedAt is older than now.Add(-ttl) and
	// reports how many rows were removed. Callers run this periodically;
	// the store performs no sweeping on its own.
	Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error)
}

// DefaultRetention is the bounded TTL applied when no retention override is
// configured.
const DefaultRetention = 90 * 24 * time.Hour
