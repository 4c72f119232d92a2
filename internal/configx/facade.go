package configx

import (
	"context"
	"sync/atomic"
	"time"
)

// ConfigResolver is the public-facing component the rest of the pipeline
// depends on. It wraps the layered Resolver, VersionedStore, and
// RolloutEvaluator behind a TTL-bounded, atomically-swapped snapshot so that
// every hot-path read (scorer weights, tier caps, model candidates) is a
// lock-free pointer load rather than a merge. The cache is single-writer
// (refresh) / many-reader, mirroring the teacher's health.Evaluator
// double-checked TTL cache but swapping a pointer instead of holding a
// mutex over the cached value itself.
type ConfigResolver struct {
	store    *VersionedStore
	rollout  *RolloutEvaluator
	resolver *Resolver
	fileLayer func() *PulseConfigSpec

	ttl      time.Duration
	snapshot atomic.Pointer[cachedSnapshot]
}

type cachedSnapshot struct {
	spec      *PulseConfigSpec
	version   int64
	computedAt time.Time
}

// NewConfigResolver builds a resolver seeded with builtin defaults. fileLayer,
// if non-nil, is invoked on every refresh to obtain the current lowest-
// precedence file layer (populated by the fsnotify watcher in FileWatcher).
func NewConfigResolver(store *VersionedStore, ttl time.Duration, fileLayer func() *PulseConfigSpec) *ConfigResolver {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &ConfigResolver{
		store:     store,
		rollout:   NewRolloutEvaluator(store),
		resolver:  NewResolver(),
		fileLayer: fileLayer,
		ttl:       ttl,
	}
}

// snapshotFor returns the merged effective config active for userID,
// refreshing the cache if it has expired or the active version for this
// user has changed since the cache was built.
func (c *ConfigResolver) snapshotFor(userID string) *PulseConfigSpec {
	active := c.rollout.ActiveVersionForUser(userID)
	if cached := c.snapshot.Load(); cached != nil {
		if cached.version == active && time.Since(cached.computedAt) < c.ttl {
			return cached.spec
		}
	}
	layers := map[int]*PulseConfigSpec{LayerBuiltin: Defaults()}
	if c.fileLayer != nil {
		if fl := c.fileLayer(); fl != nil {
			layers[LayerFile] = fl
		}
	}
	if vc, ok := c.store.Get(active); ok && vc.Spec != nil {
		layers[LayerDatabase] = vc.Spec
	}
	merged := c.resolver.Resolve(layers)
	c.snapshot.Store(&cachedSnapshot{spec: merged, version: active, computedAt: time.Now()})
	return merged
}

// ForUser returns the fully resolved, merged spec currently active for the
// given user, accounting for staged rollouts.
func (c *ConfigResolver) ForUser(ctx context.Context, userID string) *PulseConfigSpec {
	return c.snapshotFor(userID)
}

// AIEnabled reports the global kill switch state (ai.enabled).
func (c *ConfigResolver) AIEnabled(ctx context.Context, userID string) bool {
	spec := c.snapshotFor(userID)
	return spec.AI != nil && spec.AI.Enabled
}

// ScorerWeights returns the worthiness-scorer weighting coefficients.
func (c *ConfigResolver) ScorerWeights(ctx context.Context, userID string) (duration, reflection, intent, frequency float64) {
	spec := c.snapshotFor(userID)
	if spec.AI == nil {
		return 0.30, 0.20, 0.40, 0.10
	}
	return spec.AI.WeightDuration, spec.AI.WeightReflection, spec.AI.WeightIntent, spec.AI.WeightFrequency
}

// TierPolicy returns the TierSpec for the named tier, or nil if undefined.
func (c *ConfigResolver) TierPolicy(ctx context.Context, userID, tier string) *TierSpec {
	spec := c.snapshotFor(userID)
	if spec.Tiers == nil {
		return nil
	}
	return spec.Tiers[tier]
}

// ModelCandidates returns the ordered primary+fallback model-id chain.
func (c *ConfigResolver) ModelCandidates(ctx context.Context, userID string) []string {
	spec := c.snapshotFor(userID)
	if spec.AI == nil {
		return nil
	}
	out := make([]string, 0, 1+len(spec.AI.ModelFallbacks))
	if spec.AI.ModelPrimary != "" {
		out = append(out, spec.AI.ModelPrimary)
	}
	out = append(out, spec.AI.ModelFallbacks...)
	return out
}

// ModelTariffCentsPer1K returns the configured cost-per-1000-tokens for
// modelID, or 0 if the model carries no tariff entry.
func (c *ConfigResolver) ModelTariffCentsPer1K(ctx context.Context, userID, modelID string) float64 {
	spec := c.snapshotFor(userID)
	if spec.AI == nil || spec.AI.ModelTariffs == nil {
		return 0
	}
	return spec.AI.ModelTariffs[modelID]
}

// MaxCostPerPulseCents returns the max allowed enhancement cost per pulse.
func (c *ConfigResolver) MaxCostPerPulseCents(ctx context.Context, userID string) int {
	spec := c.snapshotFor(userID)
	if spec.AI == nil {
		return 0
	}
	return spec.AI.MaxCostPerPulseCents
}

// AdmissionThresholds returns the high/mid worthiness-score thresholds used
// by the admission controller's deterministic-admit rule.
func (c *ConfigResolver) AdmissionThresholds(ctx context.Context, userID string) (high, mid float64) {
	spec := c.snapshotFor(userID)
	if spec.AI == nil {
		return 0.8, 0.4
	}
	return spec.AI.HighThreshold, spec.AI.MidThreshold
}

// WorkerConcurrency returns the orchestrator's configured worker pool size.
func (c *ConfigResolver) WorkerConcurrency(ctx context.Context, userID string) int {
	spec := c.snapshotFor(userID)
	if spec.Pipeline == nil || spec.Pipeline.WorkerConcurrency <= 0 {
		return 16
	}
	return spec.Pipeline.WorkerConcurrency
}

// EventDeadline returns the end-to-end wall-clock deadline for processing a
// single change-stream event.
func (c *ConfigResolver) EventDeadline(ctx context.Context, userID string) time.Duration {
	spec := c.snapshotFor(userID)
	if spec.Pipeline == nil || spec.Pipeline.EventDeadlineSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(spec.Pipeline.EventDeadlineSeconds) * time.Second
}

// RetryPolicy returns the configured retry policy for enhancer/writer
// boundaries.
func (c *ConfigResolver) RetryPolicy(ctx context.Context, userID string) *RetryPolicySpec {
	spec := c.snapshotFor(userID)
	if spec.Global == nil {
		return &RetryPolicySpec{MaxRetries: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2}
	}
	return spec.Global.RetryPolicy
}

// Invalidate forces the next read to recompute the merged snapshot,
// regardless of TTL. Intended for tests and for immediate-apply paths that
// should not wait out the TTL window.
func (c *ConfigResolver) Invalidate() {
	c.snapshot.Store(nil)
}
