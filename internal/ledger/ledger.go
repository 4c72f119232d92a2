// Package ledger is the single source of truth for per-user AI spend. It
// tracks two rolling windows (calendar day, calendar month) per user, each
// evaluated in the user's configured timezone, and exposes an atomic,
// idempotent charge operation so a redelivered completion event never
// double-counts spend.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Window identifies which rolling spend window an operation concerns.
type Window string

const (
	WindowDaily   Window = "daily"
	WindowMonthly Window = "monthly"
)

// Snapshot is the strongly-consistent (with respect to the caller's own
// writes) read of a user's current spend.
type Snapshot struct {
	UserID           string
	DailyUsedCents   int
	MonthlyUsedCents int
	ObservedAt        time.Time
}

// ChargeStatus is the outcome of a Charge call.
type ChargeStatus int

const (
	// ChargeOK means the charge was newly applied.
	ChargeOK ChargeStatus = iota
	// ChargeDuplicate means a charge for this pulse_id was already recorded;
	// the call is a no-op and not an error from the caller's perspective.
	ChargeDuplicate
	// ChargeExceeded means applying this charge would breach the window cap
	// as last observed by the ledger; the charge was refused.
	ChargeExceeded
)

// ChargeResult reports what happened and the post-charge (or unchanged, on
// refusal/duplicate) window totals.
type ChargeResult struct {
	Status           ChargeStatus
	DailyUsedCents   int
	MonthlyUsedCents int
}

// Caps bounds the two windows; callers (the Admission Controller) resolve
// these per-tier from the Config Resolver and pass them in, since the
// ledger itself has no notion of tiers.
type Caps struct {
	DailyCapCents   int
	MonthlyCapCents int
}

// ErrUnknownUser names the unknown-user case. Neither MemoryLedger nor
// pgledger returns it: their Read returns a zero snapshot and a nil error
// for a user the ledger has never seen a charge for.
var ErrUnknownUser = errors.New("ledger: unknown user")

// Ledger is the Budget Ledger contract (spec §4.6). Implementations must
// make Charge atomic and idempotent on pulse_id without a read-modify-write
// race: a conditional increment guarded by a per-shard lock (in-memory) or a
// database transaction with a uniqueness constraint (pgledger) satisfies
// this.
type Ledger interface {
	Read(ctx context.Context, userID string, tz string) (Snapshot, error)
	Charge(ctx context.Context, userID, pulseID string, cents int, tz string, caps Caps) (ChargeResult, error)
}
