// Package sqliteaudit is a SQLite-backed audit.Store, for deployments that
// need the audit trail to survive a process restart.
package sqliteaudit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"pulsecore/internal/audit"
	"pulsecore/internal/pulse"
)

type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	rowid_seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id             TEXT NOT NULL,
	pulse_id            TEXT NOT NULL,
	decided_at          TEXT NOT NULL,
	decision_reason     TEXT NOT NULL,
	score               REAL NOT NULL,
	estimated_cost_cents INTEGER NOT NULL,
	actual_cost_cents   INTEGER NOT NULL,
	model_id            TEXT NOT NULL,
	input_tokens        INTEGER NOT NULL,
	output_tokens       INTEGER NOT NULL,
	latency_ms          INTEGER NOT NULL,
	outcome             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_user_decided ON audit_events(user_id, decided_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_pulse ON audit_events(pulse_id);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqliteaudit: open %q: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteaudit: set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteaudit: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, event pulse.AIUsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events
			(user_id, pulse_id, decided_at, decision_reason, score, estimated_cost_cents, actual_cost_cents, model_id, input_tokens, output_tokens, latency_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.UserID, event.PulseID, event.DecidedAt.UTC().Format(time.RFC3339Nano), string(event.DecisionReason),
		event.Score, event.EstimatedCostCents, event.ActualCostCents, event.ModelID,
		event.InputTokens, event.OutputTokens, event.LatencyMS, string(event.Outcome),
	)
	if err != nil {
		return fmt.Errorf("sqliteaudit: insert event: %w", err)
	}
	return nil
}

func (s *Store) ByUser(ctx context.Context, userID string, limit int) ([]pulse.AIUsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT user_id, pulse_id, decided_at, decision_reason, score, estimated_cost_cents, actual_cost_cents, model_id, input_tokens, output_tokens, latency_ms, outcome
		FROM audit_events WHERE user_id = ? ORDER BY decided_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqliteaudit: query by user: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ByPulse(ctx context.Context, pulseID string) (*pulse.AIUsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, pulse_id, decided_at, decision_reason, score, estimated_cost_cents, actual_cost_cents, model_id, input_tokens, output_tokens, latency_ms, outcome
		FROM audit_events WHERE pulse_id = ? ORDER BY decided_at DESC LIMIT 1`, pulseID)
	if err != nil {
		return nil, fmt.Errorf("sqliteaudit: query by pulse: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (s *Store) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-ttl).UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_events WHERE decided_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqliteaudit: sweep: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqliteaudit: sweep rows affected: %w", err)
	}
	return int(rows), nil
}

func scanEvents(rows *sql.Rows) ([]pulse.AIUsageEvent, error) {
	var out []pulse.AIUsageEvent
	for rows.Next() {
		var (
			e          pulse.AIUsageEvent
			decidedAt  string
			reason     string
			outcome    string
		)
		if err := rows.Scan(&e.UserID, &e.PulseID, &decidedAt, &reason, &e.Score, &e.EstimatedCostCents,
			&e.ActualCostCents, &e.ModelID, &e.InputTokens, &e.OutputTokens, &e.LatencyMS, &outcome); err != nil {
			return nil, fmt.Errorf("sqliteaudit: scan event: %w", err)
		}
		e.DecidedAt, _ = time.Parse(time.RFC3339Nano, decidedAt)
		e.DecisionReason = pulse.DecisionReason(reason)
		e.Outcome = pulse.Outcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqliteaudit: iterate events: %w", err)
	}
	return out, nil
}

var _ audit.Store = (*Store)(nil)
