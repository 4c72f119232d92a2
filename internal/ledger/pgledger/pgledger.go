// Package pgledger is the durable Budget Ledger backend: it satisfies
// ledger.Ledger against a Postgres table pair, trading the in-memory
// implementation's per-shard mutex for a row-locked transaction and its
// in-process dedupe set for a unique constraint.
package pgledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pulsecore/internal/clock"
	"pulsecore/internal/ledger"
)

// account is the per-user running-totals row. Its primary key doubles as
// the lock target: every Charge takes a SELECT ... FOR UPDATE on this row
// first, which serializes concurrent charges for the same user the same
// way the in-memory implementation's per-shard mutex does.
type account struct {
	UserID        string `gorm:"primaryKey;column:user_id"`
	DailyPeriod   string `gorm:"column:daily_period"`
	DailyCents    int    `gorm:"column:daily_cents"`
	MonthlyPeriod string `gorm:"column:monthly_period"`
	MonthlyCents  int    `gorm:"column:monthly_cents"`
}

func (account) TableName() string { return "ledger_accounts" }

// charge is an append-only record of one applied charge, keyed uniquely on
// (user_id, pulse_id) so a redelivered completion event can never be
// applied twice even if it races past the account row lock (e.g. a retry
// against a different connection after a dropped response).
type charge struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"column:user_id;uniqueIndex:idx_ledger_charge_user_pulse"`
	PulseID   string    `gorm:"column:pulse_id;uniqueIndex:idx_ledger_charge_user_pulse"`
	Cents     int       `gorm:"column:cents"`
	ChargedAt time.Time `gorm:"column:charged_at"`
}

func (charge) TableName() string { return "ledger_charges" }

// Ledger is the Postgres-backed implementation of ledger.Ledger.
type Ledger struct {
	db  *gorm.DB
	clk clock.Clock
}

// New wraps an already-connected *gorm.DB. AutoMigrate is left to the
// caller's migration path (the teacher's database bootstrap calls
// db.AutoMigrate once at startup; pgledger does not migrate itself so a
// single deployment-wide migration step stays the source of truth for
// schema changes).
func New(db *gorm.DB, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{db: db, clk: clk}
}

// Models returns the tables pgledger owns, for callers to pass to
// db.AutoMigrate alongside the rest of the schema.
func Models() []any {
	return []any{&account{}, &charge{}}
}

func (l *Ledger) Read(ctx context.Context, userID string, tz string) (ledger.Snapshot, error) {
	now := l.clk.Now()
	var acc account
	err := l.db.WithContext(ctx).First(&acc, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Snapshot{UserID: userID, ObservedAt: now}, nil
	}
	if err != nil {
		return ledger.Snapshot{}, err
	}
	rollover(&acc, now, tz)
	return ledger.Snapshot{
		UserID:           userID,
		DailyUsedCents:   acc.DailyCents,
		MonthlyUsedCents: acc.MonthlyCents,
		ObservedAt:       now,
	}, nil
}

func (l *Ledger) Charge(ctx context.Context, userID, pulseID string, cents int, tz string, caps ledger.Caps) (ledger.ChargeResult, error) {
	now := l.clk.Now()
	var result ledger.ChargeResult

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc account
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acc, "user_id = ?", userID).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			acc = account{UserID: userID}
			if err := tx.Create(&acc).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		}

		rollover(&acc, now, tz)

		var existing charge
		err = tx.First(&existing, "user_id = ? AND pulse_id = ?", userID, pulseID).Error
		switch {
		case err == nil:
			result = ledger.ChargeResult{Status: ledger.ChargeDuplicate, DailyUsedCents: acc.DailyCents, MonthlyUsedCents: acc.MonthlyCents}
			return tx.Save(&acc).Error
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		if caps.DailyCapCents > 0 && acc.DailyCents+cents > caps.DailyCapCents {
			result = ledger.ChargeResult{Status: ledger.ChargeExceeded, DailyUsedCents: acc.DailyCents, MonthlyUsedCents: acc.MonthlyCents}
			return tx.Save(&acc).Error
		}
		if caps.MonthlyCapCents > 0 && acc.MonthlyCents+cents > caps.MonthlyCapCents {
			result = ledger.ChargeResult{Status: ledger.ChargeExceeded, DailyUsedCents: acc.DailyCents, MonthlyUsedCents: acc.MonthlyCents}
			return tx.Save(&acc).Error
		}

		acc.DailyCents += cents
		acc.MonthlyCents += cents
		if err := tx.Save(&acc).Error; err != nil {
			return err
		}
		if err := tx.Create(&charge{UserID: userID, PulseID: pulseID, Cents: cents, ChargedAt: now}).Error; err != nil {
			// A unique-constraint violation here means a concurrent transaction
			// won the race to record this pulse_id after our own lookup missed
			// it; report the charge as a duplicate rather than surfacing a raw
			// constraint error to the caller.
			result = ledger.ChargeResult{Status: ledger.ChargeDuplicate, DailyUsedCents: acc.DailyCents - cents, MonthlyUsedCents: acc.MonthlyCents - cents}
			return err
		}

		result = ledger.ChargeResult{Status: ledger.ChargeOK, DailyUsedCents: acc.DailyCents, MonthlyUsedCents: acc.MonthlyCents}
		return nil
	})
	if err != nil && result.Status != ledger.ChargeDuplicate {
		return ledger.ChargeResult{}, err
	}
	return result, nil
}

func rollover(acc *account, now time.Time, tz string) {
	loc := resolveLocation(tz)
	local := now.In(loc)
	dailyKey := local.Format("2006-01-02")
	monthlyKey := local.Format("2006-01")

	if acc.DailyPeriod != dailyKey {
		acc.DailyPeriod = dailyKey
		acc.DailyCents = 0
	}
	if acc.MonthlyPeriod != monthlyKey {
		acc.MonthlyPeriod = monthlyKey
		acc.MonthlyCents = 0
	}
}

func resolveLocation(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
