// Package admission implements the Admission Controller: the ordered
// policy that turns a worthiness score, a user's tier, and the current
// budget into an ai_worthy decision. It owns no state of its own — every
// input is read from the Config Resolver and the Budget Ledger it is
// constructed with.
package admission

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"pulsecore/internal/clock"
	"pulsecore/internal/configx"
	"pulsecore/internal/ledger"
	"pulsecore/internal/pulse"
	"pulsecore/internal/scorer"
)

// Config is the subset of the Config Resolver the controller consults.
// Declared here, not in configx, so tests can supply a fake without
// constructing a real ConfigResolver and its backing store.
type Config interface {
	AIEnabled(ctx context.Context, userID string) bool
	ScorerWeights(ctx context.Context, userID string) (duration, reflection, intent, frequency float64)
	TierPolicy(ctx context.Context, userID, tier string) *configx.TierSpec
	AdmissionThresholds(ctx context.Context, userID string) (high, mid float64)
	ModelCandidates(ctx context.Context, userID string) []string
	ModelTariffCentsPer1K(ctx context.Context, userID, modelID string) float64
}

// Decision is the Admission Controller's public output (spec §4.2).
type Decision struct {
	AIWorthy           bool
	Reason             pulse.DecisionReason
	EstimatedCostCents int
	CouldBeEnhanced    bool
	Score              float64
}

const (
	maxLedgerReadAttempts = 3
	ledgerRetryDelay      = 25 * time.Millisecond

	// charsPerToken is a coarse, deliberately conservative estimate (most
	// English text averages under this) so the derived token count is an
	// upper bound, never an underestimate that could let a charge slip
	// past a cap.
	charsPerToken = 4
)

// Controller is the Admission Controller.
type Controller struct {
	cfg    Config
	ledger ledger.Ledger
	clk    clock.Clock
}

// NewController builds a Controller. clk defaults to clock.Real.
func NewController(cfg Config, l ledger.Ledger, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{cfg: cfg, ledger: l, clk: clk}
}

// Decide evaluates the ordered policy from spec §4.2 and returns the first
// matching rule's outcome.
func (c *Controller) Decide(ctx context.Context, p *pulse.Pulse, profile pulse.UserProfile, history pulse.HistorySummary) Decision {
	if !c.cfg.AIEnabled(ctx, profile.UserID) {
		return Decision{Reason: pulse.ReasonGloballyDisabled}
	}

	duration, reflection, intent, frequency := c.cfg.ScorerWeights(ctx, profile.UserID)
	score, _ := scorer.Score(p, history, scorer.Weights{
		ContentEffort: intent,
		Duration:      duration,
		Reflection:    reflection,
		Frequency:     frequency,
	})

	tier := c.cfg.TierPolicy(ctx, profile.UserID, string(profile.Tier))
	if tier == nil {
		return Decision{Reason: pulse.ReasonDegraded, Score: score}
	}
	if score < tier.MinScoreForAdmission {
		return Decision{Reason: pulse.ReasonBelowThreshold, Score: score}
	}

	estCost := c.estimateCostCents(ctx, profile.UserID, p)

	snapshot, err := c.readLedgerWithRetry(ctx, profile.UserID, profile.ResolvedTimezone())
	if err != nil {
		return Decision{Reason: pulse.ReasonDegraded, Score: score, EstimatedCostCents: estCost}
	}

	high, mid := c.cfg.AdmissionThresholds(ctx, profile.UserID)

	if snapshot.DailyUsedCents+estCost > tier.DailyCents || snapshot.MonthlyUsedCents+estCost > tier.MonthlyCents {
		return Decision{
			Reason:             pulse.ReasonBudgetExhausted,
			Score:              score,
			EstimatedCostCents: estCost,
			CouldBeEnhanced:    score >= mid,
		}
	}

	if score >= high {
		return Decision{AIWorthy: true, Reason: pulse.ReasonHighWorthiness, Score: score, EstimatedCostCents: estCost, CouldBeEnhanced: true}
	}

	if score >= mid && high > mid {
		probability := (score - mid) / (high - mid)
		if seededRand(p.PulseID).Float64() < probability {
			return Decision{AIWorthy: true, Reason: pulse.ReasonProbabilistic, Score: score, EstimatedCostCents: estCost, CouldBeEnhanced: true}
		}
	}

	return Decision{Reason: pulse.ReasonBelowThreshold, Score: score, EstimatedCostCents: estCost}
}

func (c *Controller) estimateCostCents(ctx context.Context, userID string, p *pulse.Pulse) int {
	candidates := c.cfg.ModelCandidates(ctx, userID)
	if len(candidates) == 0 {
		return 0
	}
	tariff := c.cfg.ModelTariffCentsPer1K(ctx, userID, candidates[0])
	return EstimateCostCents(p, tariff)
}

func (c *Controller) readLedgerWithRetry(ctx context.Context, userID, tz string) (ledger.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < maxLedgerReadAttempts; attempt++ {
		if attempt > 0 {
			c.clk.Sleep(ledgerRetryDelay)
		}
		snapshot, err := c.ledger.Read(ctx, userID, tz)
		if err == nil {
			return snapshot, nil
		}
		lastErr = err
	}
	return ledger.Snapshot{}, lastErr
}

// EstimateCostCents derives an upper-bound cost estimate for enhancing p at
// the given tariff (cents per 1000 tokens), from field lengths alone —
// spec §4.2: "an upper bound on token counts derived from pulse field
// lengths." Input tokens come from the intent+reflection text the prompt
// carries; output tokens are bounded by the fixed-shape structured response
// the Premium Enhancer asks for (gen_title, gen_badge, and the four
// AIInsights fields, each capped at pulse.MaxFieldLen).
func EstimateCostCents(p *pulse.Pulse, tariffCentsPer1K float64) int {
	if p == nil || tariffCentsPer1K <= 0 {
		return 0
	}
	inputChars := len(p.Intent) + len(p.Reflection)
	inputTokens := inputChars / charsPerToken
	if inputTokens < 1 {
		inputTokens = 1
	}
	const outputFields = 6 // gen_title, gen_badge, key_insight, next_suggestion, mood_assessment, emotion_pattern
	outputTokens := (outputFields * pulse.MaxFieldLen) / charsPerToken

	totalTokens := inputTokens + outputTokens
	cost := tariffCentsPer1K * float64(totalTokens) / 1000.0
	return int(math.Ceil(cost))
}

// seededRand returns a *rand.Rand seeded deterministically from pulseID, so
// a replayed decision for the same pulse draws the same probabilistic
// outcome (spec §8 property 7).
func seededRand(pulseID string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(pulseID))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
