package audit

import (
	"context"

	"pulsecore/internal/ingest"
	"pulsecore/internal/telemetry/logctx"
)

// LogSink implements ingest.CompletionSink by writing the completion event
// to the structured log (spec §4.5: "emits a completion event to the audit
// log"). It carries no state of its own — the queryable audit trail is
// Store, which records the AIUsageEvent the enhancer produced earlier in
// the same pulse's lifecycle; LogSink exists only so Persist's own
// completion has somewhere to go.
type LogSink struct{}

func (LogSink) Record(ctx context.Context, event ingest.CompletionEvent) {
	logctx.Info(ctx, "pulse ingested",
		"pulse_id", event.PulseID,
		"user_id", event.UserID,
		"inverted_timestamp", event.InvertedTimestamp,
		"persisted_at", event.PersistedAt,
	)
}

var _ ingest.CompletionSink = LogSink{}
