package ledger

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"pulsecore/internal/clock"
)

const shardCount = 16

// MemoryLedger is an in-process Ledger, sharded by user id the same way the
// teacher's adaptive rate limiter shards by domain, so charges for users
// that hash to different shards never contend on the same lock.
type MemoryLedger struct {
	clk    clock.Clock
	shards [shardCount]*shard
}

type shard struct {
	mu    sync.Mutex
	users map[string]*userState
}

type userState struct {
	dailyPeriod   string
	dailyCents    int
	monthlyPeriod string
	monthlyCents  int
	charged       map[string]struct{} // pulse_id dedupe, never reset by a window rollover
}

// NewMemoryLedger builds a ledger using clk for "now" (use clock.Real in
// production, clock.Frozen in tests needing deterministic window boundaries).
func NewMemoryLedger(clk clock.Clock) *MemoryLedger {
	if clk == nil {
		clk = clock.Real{}
	}
	l := &MemoryLedger{clk: clk}
	for i := range l.shards {
		l.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return l
}

func (l *MemoryLedger) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLedger) Read(ctx context.Context, userID string, tz string) (Snapshot, error) {
	now := l.clk.Now()
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st := sh.users[userID]
	if st == nil {
		return Snapshot{UserID: userID, ObservedAt: now}, nil
	}
	rolloverLocked(st, now, tz)
	return Snapshot{UserID: userID, DailyUsedCents: st.dailyCents, MonthlyUsedCents: st.monthlyCents, ObservedAt: now}, nil
}

func (l *MemoryLedger) Charge(ctx context.Context, userID, pulseID string, cents int, tz string, caps Caps) (ChargeResult, error) {
	now := l.clk.Now()
	sh := l.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.users[userID]
	if st == nil {
		st = &userState{charged: make(map[string]struct{})}
		sh.users[userID] = st
	}
	rolloverLocked(st, now, tz)

	if _, already := st.charged[pulseID]; already {
		return ChargeResult{Status: ChargeDuplicate, DailyUsedCents: st.dailyCents, MonthlyUsedCents: st.monthlyCents}, nil
	}

	if caps.DailyCapCents > 0 && st.dailyCents+cents > caps.DailyCapCents {
		return ChargeResult{Status: ChargeExceeded, DailyUsedCents: st.dailyCents, MonthlyUsedCents: st.monthlyCents}, nil
	}
	if caps.MonthlyCapCents > 0 && st.monthlyCents+cents > caps.MonthlyCapCents {
		return ChargeResult{Status: ChargeExceeded, DailyUsedCents: st.dailyCents, MonthlyUsedCents: st.monthlyCents}, nil
	}

	st.dailyCents += cents
	st.monthlyCents += cents
	st.charged[pulseID] = struct{}{}

	return ChargeResult{Status: ChargeOK, DailyUsedCents: st.dailyCents, MonthlyUsedCents: st.monthlyCents}, nil
}

// rolloverLocked zeroes a window's counter when the current period key no
// longer matches the stored one. This is a logical reset only: no record is
// deleted, the counter is just re-keyed to the new period (spec §4.6:
// "reset - logical only; windows expire by clock, not by explicit deletion").
func rolloverLocked(st *userState, now time.Time, tz string) {
	loc := resolveLocation(tz)
	local := now.In(loc)
	dailyKey := local.Format("2006-01-02")
	monthlyKey := local.Format("2006-01")

	if st.dailyPeriod != dailyKey {
		st.dailyPeriod = dailyKey
		st.dailyCents = 0
	}
	if st.monthlyPeriod != monthlyKey {
		st.monthlyPeriod = monthlyKey
		st.monthlyCents = 0
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
