// Package premium implements the Premium Enhancer (spec §4.3): it calls an
// ordered chain of candidate models to turn an admitted pulse into
// AIInsights plus a title and badge, degrading through the fallback chain
// on entitlement failures and retrying transient ones, and reconciling the
// actual cost against the ledger once a call succeeds.
package premium

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"pulsecore/internal/clock"
	"pulsecore/internal/configx"
	"pulsecore/internal/errkind"
	"pulsecore/internal/ledger"
	"pulsecore/internal/pulse"
	"pulsecore/internal/telemetry/logctx"
)

const (
	defaultCallTimeout    = 90 * time.Second
	defaultMaxAttempts    = 3
	defaultBackoffBase    = 500 * time.Millisecond
	defaultBackoffMax     = 8 * time.Second
	defaultSelectionTTL   = 5 * time.Minute
	maxTokensPerCompletion = 1024
)

// Config is the slice of the Config Resolver the Premium Enhancer needs.
type Config interface {
	ModelCandidates(ctx context.Context, userID string) []string
	ModelTariffCentsPer1K(ctx context.Context, userID, modelID string) float64
	TierPolicy(ctx context.Context, userID, tier string) *configx.TierSpec
}

// Input is everything the enhancer needs about an already-admitted pulse.
type Input struct {
	Pulse              *pulse.Pulse
	Profile            pulse.UserProfile
	DecisionReason     pulse.DecisionReason
	Score              float64
	EstimatedCostCents int
}

// Result is the successful outcome of Enhance.
type Result struct {
	GenTitle string
	GenBadge string
	Insights pulse.AIInsights
	Event    pulse.AIUsageEvent
}

// Enhancer orchestrates model selection, invocation, parsing, and cost
// reconciliation.
type Enhancer struct {
	cfg     Config
	client  Client
	limiter *ModelLimiter
	ledger  ledger.Ledger
	clk     clock.Clock

	maxAttempts  int
	callTimeout  time.Duration
	selectionTTL time.Duration

	selection selectionCache

	randMu sync.Mutex
	rand   *rand.Rand
}

func New(cfg Config, client Client, l ledger.Ledger, clk clock.Clock) *Enhancer {
	return &Enhancer{
		cfg:          cfg,
		client:       client,
		limiter:      NewModelLimiter(clk, defaultLimiterConfig()),
		ledger:       l,
		clk:          clk,
		maxAttempts:  defaultMaxAttempts,
		callTimeout:  defaultCallTimeout,
		selectionTTL: defaultSelectionTTL,
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// selectionCache remembers the last model id that answered successfully, so
// a steady stream of calls doesn't re-probe the primary on every invocation
// once a fallback has proven itself (spec §4.3).
type selectionCache struct {
	mu        sync.Mutex
	modelID   string
	expiresAt time.Time
}

func (s *selectionCache) get(now time.Time) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modelID == "" || now.After(s.expiresAt) {
		return "", false
	}
	return s.modelID, true
}

func (s *selectionCache) set(modelID string, now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelID = modelID
	s.expiresAt = now.Add(ttl)
}

// orderedCandidates returns candidates starting from the cached working
// model, if it's still present in the chain, followed by the rest in their
// configured order.
func orderedCandidates(all []string, cached string) []string {
	if cached == "" {
		return all
	}
	idx := -1
	for i, m := range all {
		if m == cached {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return all
	}
	out := make([]string, 0, len(all))
	out = append(out, all[idx])
	out = append(out, all[:idx]...)
	out = append(out, all[idx+1:]...)
	return out
}

// Enhance runs the full Premium Enhancer contract for one admitted pulse.
func (e *Enhancer) Enhance(ctx context.Context, in Input) (Result, error) {
	userID := in.Profile.UserID
	candidates := e.cfg.ModelCandidates(ctx, userID)
	if len(candidates) == 0 {
		return Result{}, errkind.Wrap(errkind.KindPremiumUnavailable, errors.New("premium: no candidate models configured"))
	}

	cachedModel, _ := e.selection.get(e.clk.Now())
	tryOrder := orderedCandidates(candidates, cachedModel)

	system := systemPrompt
	user := buildUserPrompt(in.Pulse)

	var lastErr error
	for _, modelID := range tryOrder {
		if !e.limiter.Allow(modelID) {
			lastErr = fmt.Errorf("premium: model %q circuit open or rate-limited", modelID)
			continue
		}

		resp, attempts, latency, err := e.callWithRetry(ctx, modelID, system, user)
		if err != nil {
			lastErr = err
			if isEntitlementErr(err) {
				logctx.Warn(ctx, "premium model unavailable, advancing fallback chain", "model_id", modelID, "pulse_id", in.Pulse.PulseID)
				continue
			}
			logctx.Warn(ctx, "premium model exhausted retries", "model_id", modelID, "attempts", attempts, "pulse_id", in.Pulse.PulseID)
			continue
		}

		insights, genTitle, genBadge, err := e.parseAndClamp(resp.Content)
		if err != nil {
			lastErr = errkind.Wrap(errkind.KindParse, err)
			e.limiter.Report(modelID, Feedback{Success: false, Latency: latency})
			continue
		}

		e.selection.set(modelID, e.clk.Now(), e.selectionTTL)

		tariff := e.cfg.ModelTariffCentsPer1K(ctx, userID, modelID)
		actualCostCents := reconcileCostCents(tariff, resp.InputTokens, resp.OutputTokens)

		event := pulse.AIUsageEvent{
			UserID:             userID,
			PulseID:            in.Pulse.PulseID,
			DecidedAt:          e.clk.Now(),
			DecisionReason:     in.DecisionReason,
			Score:              in.Score,
			EstimatedCostCents: in.EstimatedCostCents,
			ActualCostCents:    actualCostCents,
			ModelID:            modelID,
			InputTokens:        resp.InputTokens,
			OutputTokens:       resp.OutputTokens,
			LatencyMS:          latency.Milliseconds(),
			Outcome:            pulse.OutcomeAdmittedEnhanced,
		}

		if e.ledger != nil && actualCostCents > 0 {
			caps := e.capsFor(ctx, in.Profile)
			if _, chargeErr := e.ledger.Charge(ctx, userID, in.Pulse.PulseID, actualCostCents, in.Profile.ResolvedTimezone(), caps); chargeErr != nil {
				logctx.Error(ctx, "premium: ledger charge failed", "error", chargeErr, "pulse_id", in.Pulse.PulseID)
			}
		}

		return Result{GenTitle: genTitle, GenBadge: genBadge, Insights: insights, Event: event}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("premium: every candidate model was unavailable")
	}
	return Result{}, errkind.Wrap(errkind.KindPremiumUnavailable, fmt.Errorf("premium: all candidates exhausted: %w", lastErr))
}

func (e *Enhancer) capsFor(ctx context.Context, profile pulse.UserProfile) ledger.Caps {
	tier := e.cfg.TierPolicy(ctx, profile.UserID, string(profile.Tier))
	if tier == nil {
		return ledger.Caps{}
	}
	return ledger.Caps{DailyCapCents: tier.DailyCents, MonthlyCapCents: tier.MonthlyCents}
}

// callWithRetry invokes modelID, retrying transient failures with
// exponential backoff and full jitter up to e.maxAttempts times (spec
// §4.3). Entitlement failures return immediately without a retry, since
// they're permanent for this model.
func (e *Enhancer) callWithRetry(ctx context.Context, modelID, system, user string) (ModelResponse, int, time.Duration, error) {
	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		start := e.clk.Now()
		resp, err := e.client.Complete(callCtx, ModelRequest{
			Model:        modelID,
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    maxTokensPerCompletion,
		})
		latency := e.clk.Now().Sub(start)
		cancel()

		if err == nil {
			e.limiter.Report(modelID, Feedback{Success: true, Latency: latency})
			return resp, attempt, latency, nil
		}

		lastErr = err
		fb := feedbackFor(err, latency)
		e.limiter.Report(modelID, fb)

		if isEntitlementErr(err) {
			return ModelResponse{}, attempt, latency, err
		}
		if !isRetryableErr(err) || attempt == e.maxAttempts {
			break
		}
		e.clk.Sleep(e.backoffDelay(attempt))
	}
	return ModelResponse{}, e.maxAttempts, 0, lastErr
}

func feedbackFor(err error, latency time.Duration) Feedback {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Feedback{
			Success:   false,
			Throttled: isThrottleStatus(apiErr.StatusCode),
			ServerErr: isServerErrorStatus(apiErr.StatusCode),
			Latency:   latency,
		}
	}
	return Feedback{Success: false, ServerErr: true, Latency: latency}
}

func isEntitlementErr(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && isEntitlementStatus(apiErr.StatusCode)
}

func isRetryableErr(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isThrottleStatus(apiErr.StatusCode) || isServerErrorStatus(apiErr.StatusCode)
	}
	// Network errors, context deadline exceeded, etc. are treated as
	// transient: they carry no status code but aren't permanent either.
	return !errors.Is(err, context.Canceled)
}

// backoffDelay computes an exponentially growing delay capped at
// defaultBackoffMax, then applies full jitter: a uniform draw between zero
// and the computed delay. Mirrors the teacher's crawl-retry backoff, traded
// for full jitter per spec §4.3 instead of the teacher's half-jitter.
func (e *Enhancer) backoffDelay(attempt int) time.Duration {
	delay := defaultBackoffBase * time.Duration(1<<(attempt-1))
	if delay > defaultBackoffMax {
		delay = defaultBackoffMax
	}
	e.randMu.Lock()
	jittered := time.Duration(e.rand.Float64() * float64(delay))
	e.randMu.Unlock()
	return jittered
}

func (e *Enhancer) parseAndClamp(content string) (pulse.AIInsights, string, string, error) {
	parsed, err := parseModelContent(content)
	if err != nil {
		return pulse.AIInsights{}, "", "", err
	}
	insights := pulse.AIInsights{
		ProductivityScore: pulse.ClampProductivityScore(parsed.ProductivityScore),
		KeyInsight:        pulse.Truncate(parsed.KeyInsight),
		NextSuggestion:    pulse.Truncate(parsed.NextSuggestion),
		MoodAssessment:    pulse.Truncate(parsed.MoodAssessment),
		EmotionPattern:    pulse.Truncate(parsed.EmotionPattern),
	}
	return insights, pulse.Truncate(parsed.GenTitle), pulse.Truncate(parsed.GenBadge), nil
}

// reconcileCostCents derives actual spend from reported token usage and the
// configured per-model tariff (spec §4.3), rounding up so the ledger never
// under-charges a completed call.
func reconcileCostCents(tariffCentsPer1K float64, inputTokens, outputTokens int) int {
	if tariffCentsPer1K <= 0 {
		return 0
	}
	total := inputTokens + outputTokens
	if total <= 0 {
		return 0
	}
	cost := tariffCentsPer1K * float64(total) / 1000.0
	return int(math.Ceil(cost))
}
