package configx

import (
	"context"
	"testing"
	"time"
)

func TestConfigResolver_FallsBackToDefaults(t *testing.T) {
	store := NewVersionedStore()
	cr := NewConfigResolver(store, time.Minute, nil)
	ctx := context.Background()
	if !cr.AIEnabled(ctx, "user-1") {
		t.Fatalf("expected builtin default ai.enabled=true")
	}
	models := cr.ModelCandidates(ctx, "user-1")
	if len(models) == 0 || models[0] != "pulse-premium-1" {
		t.Fatalf("expected default primary model, got %v", models)
	}
}

func TestConfigResolver_PicksUpAppliedVersion(t *testing.T) {
	store := NewVersionedStore()
	cr := NewConfigResolver(store, time.Minute, nil)
	ctx := context.Background()
	_, _ = store.Append(&PulseConfigSpec{AI: &AIConfigSection{Enabled: false}}, "operator", "kill switch", 0)
	cr.Invalidate()
	if cr.AIEnabled(ctx, "user-1") {
		t.Fatalf("expected kill switch to disable AI enhancement")
	}
}

func TestConfigResolver_TierPolicyLookup(t *testing.T) {
	store := NewVersionedStore()
	cr := NewConfigResolver(store, time.Minute, nil)
	ctx := context.Background()
	tier := cr.TierPolicy(ctx, "user-1", "free")
	if tier == nil || tier.DailyCents != 5 {
		t.Fatalf("expected free tier default daily cap of 5 cents, got %+v", tier)
	}
	if cr.TierPolicy(ctx, "user-1", "nonexistent") != nil {
		t.Fatalf("expected nil for unknown tier")
	}
}

func TestConfigResolver_NewVersionBypassesTTLCache(t *testing.T) {
	store := NewVersionedStore()
	cr := NewConfigResolver(store, time.Hour, nil)
	ctx := context.Background()
	first := cr.ForUser(ctx, "user-1")
	_, _ = store.Append(&PulseConfigSpec{AI: &AIConfigSection{Enabled: false}}, "operator", "kill switch", 0)
	// Without Invalidate, the rollout mode is "full" so the active version
	// changes immediately on every append regardless of TTL (version-aware
	// cache key), matching the no-staged-rollout happy path.
	second := cr.ForUser(ctx, "user-1")
	if first == second {
		t.Fatalf("expected a fresh snapshot after a new full-rollout version was applied")
	}
}
