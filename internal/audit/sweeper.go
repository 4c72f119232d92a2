package audit

import (
	"context"
	"time"

	"pulsecore/internal/telemetry/logctx"
)

// RunSweeper runs store.Sweep on a fixed interval until ctx is cancelled,
// enforcing the TTL retention named in spec.md's AIUsageEvent data model
// but not assigned to any single operation. Grounded on the teacher's
// AdaptiveRateLimiter.evictLoop ticker pattern.
func RunSweeper(ctx context.Context, store Store, interval, ttl time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed, err := store.Sweep(ctx, time.Now(), ttl)
			if err != nil {
				logctx.Error(ctx, "audit sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logctx.Info(ctx, "audit sweep removed expired events", "removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}
