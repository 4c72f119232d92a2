// Package sqlitedlq is a SQLite-backed dlq.Queue, for deployments that need
// dead-lettered entries to survive a process restart so operator tooling
// can still drain them.
package sqlitedlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pulsecore/internal/dlq"
	"pulsecore/internal/errkind"
	"pulsecore/internal/pulse"
	"pulsecore/internal/stream"
)

type Queue struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS dlq_entries (
	sequence_id        INTEGER PRIMARY KEY,
	partition_key      TEXT NOT NULL,
	event_kind         TEXT NOT NULL,
	pulse_json         TEXT NOT NULL,
	error_kind         TEXT NOT NULL,
	attempts           INTEGER NOT NULL,
	first_seen_at      TEXT NOT NULL,
	last_attempt_at    TEXT NOT NULL,
	last_error_message TEXT NOT NULL
);
`

// Open opens (or creates) a SQLite-backed dlq.Queue at path. Use ":memory:"
// for an ephemeral, test-only database.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitedlq: open %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedlq: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitedlq: create schema: %w", err)
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func (q *Queue) Enqueue(ctx context.Context, entry dlq.Entry) error {
	pulseJSON, err := json.Marshal(entry.Event.Pulse)
	if err != nil {
		return fmt.Errorf("sqlitedlq: marshal pulse: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO dlq_entries
			(sequence_id, partition_key, event_kind, pulse_json, error_kind, attempts, first_seen_at, last_attempt_at, last_error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sequence_id) DO UPDATE SET
			attempts = excluded.attempts,
			last_attempt_at = excluded.last_attempt_at,
			last_error_message = excluded.last_error_message`,
		entry.Event.SequenceID, entry.Event.PartitionKey, string(entry.Event.Kind), string(pulseJSON),
		entry.ErrorKind.String(), entry.Attempts,
		entry.FirstSeenAt.UTC().Format(time.RFC3339Nano), entry.LastAttemptAt.UTC().Format(time.RFC3339Nano),
		entry.LastErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("sqlitedlq: insert entry: %w", err)
	}
	return nil
}

func (q *Queue) List(ctx context.Context) ([]dlq.Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx, `
		SELECT sequence_id, partition_key, event_kind, pulse_json, error_kind, attempts, first_seen_at, last_attempt_at, last_error_message
		FROM dlq_entries ORDER BY sequence_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlitedlq: query entries: %w", err)
	}
	defer rows.Close()

	var out []dlq.Entry
	for rows.Next() {
		var (
			seqID                          int64
			partitionKey, eventKind        string
			pulseJSON, errorKindStr        string
			attempts                       int
			firstSeenAt, lastAttemptAt     string
			lastErrorMessage               string
		)
		if err := rows.Scan(&seqID, &partitionKey, &eventKind, &pulseJSON, &errorKindStr, &attempts, &firstSeenAt, &lastAttemptAt, &lastErrorMessage); err != nil {
			return nil, fmt.Errorf("sqlitedlq: scan entry: %w", err)
		}

		var p pulse.Pulse
		if err := json.Unmarshal([]byte(pulseJSON), &p); err != nil {
			return nil, fmt.Errorf("sqlitedlq: unmarshal pulse for sequence %d: %w", seqID, err)
		}
		firstSeen, _ := time.Parse(time.RFC3339Nano, firstSeenAt)
		lastAttempt, _ := time.Parse(time.RFC3339Nano, lastAttemptAt)

		out = append(out, dlq.Entry{
			Event: stream.Event{
				Kind:         stream.EventKind(eventKind),
				Pulse:        &p,
				SequenceID:   seqID,
				PartitionKey: partitionKey,
			},
			ErrorKind:        parseErrorKind(errorKindStr),
			Attempts:         attempts,
			FirstSeenAt:      firstSeen,
			LastAttemptAt:    lastAttempt,
			LastErrorMessage: lastErrorMessage,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitedlq: iterate entries: %w", err)
	}
	return out, nil
}

func (q *Queue) Remove(ctx context.Context, sequenceID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, err := q.db.ExecContext(ctx, "DELETE FROM dlq_entries WHERE sequence_id = ?", sequenceID)
	if err != nil {
		return fmt.Errorf("sqlitedlq: remove entry %d: %w", sequenceID, err)
	}
	return nil
}

func parseErrorKind(s string) errkind.Kind {
	for _, k := range []errkind.Kind{
		errkind.KindTransient, errkind.KindDegraded, errkind.KindPremiumUnavailable,
		errkind.KindParse, errkind.KindConflict, errkind.KindPoison, errkind.KindFatal,
	} {
		if k.String() == s {
			return k
		}
	}
	return errkind.KindUnknown
}

var _ dlq.Queue = (*Queue)(nil)
