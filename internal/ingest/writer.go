// Package ingest implements the Ingest Writer (spec §4.5): the terminal
// step of the pipeline that persists an enhanced pulse exactly once and
// folds it into its user's aggregates, no matter how many times the same
// completion event is redelivered.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"pulsecore/internal/errkind"
	"pulsecore/internal/pulse"
)

// Ack is returned by a successful Persist, whether it performed a new write
// or recognized a harmless replay.
type Ack struct {
	PulseID           string
	AlreadyIngested    bool
	InvertedTimestamp int64
}

// CompletionEvent is what Persist hands to a CompletionSink once a pulse is
// durably recorded (spec §4.5: "emits a completion event to the audit
// log").
type CompletionEvent struct {
	PulseID           string
	UserID            string
	InvertedTimestamp int64
	PersistedAt       time.Time
}

// CompletionSink receives a CompletionEvent for every newly-persisted
// pulse. Replays that resolve to AlreadyIngested don't produce a new event.
type CompletionSink interface {
	Record(ctx context.Context, event CompletionEvent)
}

// Writer is the Ingest Writer contract.
type Writer interface {
	Persist(ctx context.Context, p *pulse.Pulse) (Ack, error)
}

// ErrConflict classifies a persist call whose pulse_id already exists with
// different content than the one being written now — a redelivery with a
// mutated payload, which the writer refuses rather than silently applying.
var ErrConflict = errkind.Wrap(errkind.KindConflict, errors.New("ingest: pulse_id already ingested with different content"))

// ContentHash derives the idempotency fingerprint for a pulse's ingested
// fields. Two persist calls for the same pulse_id are "identical content"
// exactly when this hash matches; anything else is a conflict.
func ContentHash(p *pulse.Pulse) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%t|%d|%d|%d",
		p.PulseID, p.UserID, p.GenTitle, p.GenBadge, p.AIEnhanced, p.AICostCents,
		p.EffectiveDurationSeconds, p.StoppedAt.UnixMilli())
	return hex.EncodeToString(h.Sum(nil))
}
