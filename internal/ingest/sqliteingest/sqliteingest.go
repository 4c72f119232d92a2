// Package sqliteingest is a durable ingest.Writer backed by SQLite, for
// deployments that need the completion record and aggregates to survive a
// process restart.
package sqliteingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pulsecore/internal/clock"
	"pulsecore/internal/ingest"
	"pulsecore/internal/pulse"
)

// Writer persists pulses into a SQLite database, enforcing the same
// idempotency contract as ingest.MemoryWriter but across restarts.
type Writer struct {
	mu   sync.Mutex
	db   *sql.DB
	clk  clock.Clock
	sink ingest.CompletionSink
}

const schema = `
CREATE TABLE IF NOT EXISTS ingested_pulses (
	pulse_id           TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	content_hash       TEXT NOT NULL,
	gen_title          TEXT NOT NULL,
	gen_badge          TEXT NOT NULL,
	ai_enhanced        INTEGER NOT NULL,
	ai_cost_cents      INTEGER NOT NULL,
	inverted_timestamp INTEGER NOT NULL,
	ingested_at        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS aggregate_contributions (
	user_id  TEXT NOT NULL,
	pulse_id TEXT NOT NULL,
	PRIMARY KEY (user_id, pulse_id)
);
CREATE TABLE IF NOT EXISTS user_aggregates (
	user_id        TEXT PRIMARY KEY,
	total_ingested INTEGER NOT NULL DEFAULT 0
);
`

// Open opens (or creates) a SQLite-backed Writer at path. Use ":memory:" for
// an ephemeral, test-only database.
func Open(path string, clk clock.Clock, sink ingest.CompletionSink) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteingest: open %q: %w", path, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteingest: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteingest: create schema: %w", err)
	}

	return &Writer{db: db, clk: clk, sink: sink}, nil
}

// Close releases the underlying database handle.
func (w *Writer) Close() error {
	return w.db.Close()
}

// Persist writes p exactly once per pulse_id, transactionally folding the
// write into the per-user aggregate (spec §4.5). Mirrors ingest.MemoryWriter:
// an identical redelivery is a no-op success, a mutated one is ingest.ErrConflict.
func (w *Writer) Persist(ctx context.Context, p *pulse.Pulse) (ingest.Ack, error) {
	hash := ingest.ContentHash(p)
	inverted := pulse.InvertTimestamp(p.StoppedAt)

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return ingest.Ack{}, fmt.Errorf("sqliteingest: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingHash string
	err = tx.QueryRowContext(ctx,
		"SELECT content_hash FROM ingested_pulses WHERE pulse_id = ?", p.PulseID,
	).Scan(&existingHash)

	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO ingested_pulses
				(pulse_id, user_id, content_hash, gen_title, gen_badge, ai_enhanced, ai_cost_cents, inverted_timestamp, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PulseID, p.UserID, hash, p.GenTitle, p.GenBadge, p.AIEnhanced, p.AICostCents, inverted,
			w.clk.Now().UTC().Format(time.RFC3339Nano),
		); err != nil {
			return ingest.Ack{}, fmt.Errorf("sqliteingest: insert pulse: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO aggregate_contributions (user_id, pulse_id) VALUES (?, ?)",
			p.UserID, p.PulseID,
		)
		if err != nil {
			return ingest.Ack{}, fmt.Errorf("sqliteingest: record contribution: %w", err)
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_aggregates (user_id, total_ingested) VALUES (?, 1)
				ON CONFLICT(user_id) DO UPDATE SET total_ingested = total_ingested + 1`,
				p.UserID,
			); err != nil {
				return ingest.Ack{}, fmt.Errorf("sqliteingest: bump aggregate: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return ingest.Ack{}, fmt.Errorf("sqliteingest: commit: %w", err)
		}

		if w.sink != nil {
			w.sink.Record(ctx, ingest.CompletionEvent{
				PulseID:           p.PulseID,
				UserID:            p.UserID,
				InvertedTimestamp: inverted,
				PersistedAt:       w.clk.Now(),
			})
		}
		return ingest.Ack{PulseID: p.PulseID, InvertedTimestamp: inverted}, nil

	case err != nil:
		return ingest.Ack{}, fmt.Errorf("sqliteingest: lookup pulse: %w", err)

	case existingHash != hash:
		return ingest.Ack{}, ingest.ErrConflict

	default:
		// Identical redelivery: commit the read-only tx and report success.
		if err := tx.Commit(); err != nil {
			return ingest.Ack{}, fmt.Errorf("sqliteingest: commit: %w", err)
		}
		return ingest.Ack{PulseID: p.PulseID, AlreadyIngested: true, InvertedTimestamp: inverted}, nil
	}
}

// TotalIngested returns the current aggregate count for userID.
func (w *Writer) TotalIngested(ctx context.Context, userID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var total int64
	err := w.db.QueryRowContext(ctx,
		"SELECT total_ingested FROM user_aggregates WHERE user_id = ?", userID,
	).Scan(&total)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqliteingest: read aggregate: %w", err)
	}
	return total, nil
}

var _ ingest.Writer = (*Writer)(nil)
