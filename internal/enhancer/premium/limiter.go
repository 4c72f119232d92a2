package premium

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulsecore/internal/clock"
)

// Feedback is the outcome of one invocation attempt against a model,
// reported back into the limiter so it can adjust its rate and breaker
// state. Mirrors the teacher's domain feedback shape, keyed by model id
// instead of crawl domain.
type Feedback struct {
	Success    bool
	Throttled  bool // 429/503-equivalent
	ServerErr  bool // 5xx-equivalent
	Latency    time.Duration
	RetryAfter time.Duration
}

// LimiterConfig tunes the AIMD fill-rate adjustment and circuit-breaker
// thresholds for a single model's limiter. Defaults mirror the teacher's
// domain rate limit config.
type LimiterConfig struct {
	InitialRPS float64
	MinRPS     float64
	MaxRPS     float64
	Burst      int

	AIMDIncrease float64
	AIMDDecrease float64

	LatencyTarget        time.Duration
	LatencyDegradeFactor float64

	StatsWindow time.Duration
	StatsBucket time.Duration

	ErrorRateThreshold       float64
	MinSamplesToTrip         int
	ConsecutiveFailThreshold int
	OpenStateDuration        time.Duration
	HalfOpenProbes           int
}

func defaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		InitialRPS:               5,
		MinRPS:                   0.5,
		MaxRPS:                   20,
		Burst:                    5,
		AIMDIncrease:             0.5,
		AIMDDecrease:             0.5,
		LatencyTarget:            2 * time.Second,
		LatencyDegradeFactor:     2.0,
		StatsWindow:              30 * time.Second,
		StatsBucket:              2 * time.Second,
		ErrorRateThreshold:       0.5,
		MinSamplesToTrip:         5,
		ConsecutiveFailThreshold: 3,
		OpenStateDuration:        10 * time.Second,
		HalfOpenProbes:           2,
	}
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

type breaker struct {
	state             circuitState
	openedAt          time.Time
	halfOpenSuccesses int
	consecutiveFails  int
}

type windowBucket struct{ total, errors int }

type slidingWindow struct {
	window     time.Duration
	bucketSize time.Duration
	buckets    map[int64]*windowBucket
}

func newSlidingWindow(window, bucketSize time.Duration) *slidingWindow {
	if bucketSize <= 0 {
		bucketSize = time.Second
	}
	if window < bucketSize {
		window = bucketSize
	}
	return &slidingWindow{window: window, bucketSize: bucketSize, buckets: make(map[int64]*windowBucket)}
}

func (w *slidingWindow) record(now time.Time, total, errs int) {
	key := now.Truncate(w.bucketSize).UnixNano()
	if b, ok := w.buckets[key]; ok {
		b.total += total
		b.errors += errs
	} else {
		w.buckets[key] = &windowBucket{total: total, errors: errs}
	}
	w.evict(now)
}

func (w *slidingWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	for key := range w.buckets {
		if time.Unix(0, key).Before(cutoff) {
			delete(w.buckets, key)
		}
	}
}

func (w *slidingWindow) snapshot(now time.Time) (total, errs int) {
	w.evict(now)
	cutoff := now.Add(-w.window)
	for key, b := range w.buckets {
		if time.Unix(0, key).Before(cutoff) {
			continue
		}
		total += b.total
		errs += b.errors
	}
	return total, errs
}

// modelState is the per-model rate/breaker state, one instance per
// candidate model id, guarded by its own mutex so independent models never
// contend with each other.
type modelState struct {
	mu sync.Mutex

	limiter  *rate.Limiter
	fillRate float64

	latencyEWMA float64
	window      *slidingWindow
	breaker     breaker

	cfg LimiterConfig
}

func newModelState(cfg LimiterConfig) *modelState {
	fill := clampFloat(cfg.InitialRPS, cfg.MinRPS, cfg.MaxRPS)
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &modelState{
		limiter:     rate.NewLimiter(rate.Limit(fill), burst),
		fillRate:    fill,
		latencyEWMA: float64(cfg.LatencyTarget),
		window:      newSlidingWindow(cfg.StatsWindow, cfg.StatsBucket),
		breaker:     breaker{state: circuitClosed},
		cfg:         cfg,
	}
}

const latencyEWMALambda = 0.2

// Allow reports whether a call against this model may proceed right now:
// the circuit must be closed (or probing half-open) and the token bucket
// must have a token available.
func (s *modelState) Allow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.breakerAllowsLocked(now) {
		return false
	}
	return s.limiter.AllowN(now, 1)
}

func (s *modelState) breakerAllowsLocked(now time.Time) bool {
	switch s.breaker.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if now.Sub(s.breaker.openedAt) >= effectiveOpenDuration(s.cfg.OpenStateDuration) {
			s.breaker.state = circuitHalfOpen
			s.breaker.halfOpenSuccesses = 0
			return true
		}
		return false
	case circuitHalfOpen:
		return true
	default:
		return true
	}
}

// Report feeds the outcome of a call back into the limiter: it adjusts the
// fill rate by AIMD, folds the result into the sliding error-rate window,
// and advances the breaker state machine.
func (s *modelState) Report(now time.Time, fb Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	observed := fb.Latency
	if observed <= 0 {
		observed = s.cfg.LatencyTarget
	}
	s.latencyEWMA = (1-latencyEWMALambda)*s.latencyEWMA + latencyEWMALambda*float64(observed)

	isError := fb.Throttled || fb.ServerErr || !fb.Success

	shouldDecrease := fb.Throttled || fb.ServerErr || !fb.Success
	if !shouldDecrease {
		degradeThreshold := time.Duration(float64(s.cfg.LatencyTarget) * s.cfg.LatencyDegradeFactor)
		if degradeThreshold <= 0 {
			degradeThreshold = 2 * s.cfg.LatencyTarget
		}
		if observed >= degradeThreshold {
			shouldDecrease = true
		}
	}

	if shouldDecrease {
		s.fillRate = maxFloat(s.cfg.MinRPS, s.fillRate*s.cfg.AIMDDecrease)
	} else if fb.Success {
		s.fillRate = minFloat(s.cfg.MaxRPS, s.fillRate+s.cfg.AIMDIncrease)
	}
	s.limiter.SetLimit(rate.Limit(s.fillRate))

	s.window.record(now, 1, boolToInt(isError))

	if isError {
		s.breaker.consecutiveFails++
	} else if fb.Success {
		s.breaker.consecutiveFails = 0
	}

	total, errs := s.window.snapshot(now)
	var errorRate float64
	if total > 0 {
		errorRate = float64(errs) / float64(total)
	}
	s.updateBreakerLocked(now, isError, fb.Success, errorRate, total)
}

func (s *modelState) updateBreakerLocked(now time.Time, isError, success bool, errorRate float64, total int) {
	switch s.breaker.state {
	case circuitClosed:
		minSamples := s.cfg.MinSamplesToTrip
		if minSamples <= 0 {
			minSamples = 1
		}
		if (s.cfg.ErrorRateThreshold > 0 && total >= minSamples && errorRate >= s.cfg.ErrorRateThreshold) ||
			(s.cfg.ConsecutiveFailThreshold > 0 && s.breaker.consecutiveFails >= s.cfg.ConsecutiveFailThreshold) {
			s.openBreakerLocked(now)
		}
	case circuitOpen:
		if now.Sub(s.breaker.openedAt) >= effectiveOpenDuration(s.cfg.OpenStateDuration) {
			s.breaker.state = circuitHalfOpen
			s.breaker.halfOpenSuccesses = 0
		}
	case circuitHalfOpen:
		if isError {
			s.openBreakerLocked(now)
			return
		}
		if success {
			probes := s.cfg.HalfOpenProbes
			if probes <= 0 {
				probes = 1
			}
			s.breaker.halfOpenSuccesses++
			if s.breaker.halfOpenSuccesses >= probes {
				s.breaker.state = circuitClosed
				s.breaker.consecutiveFails = 0
				s.breaker.halfOpenSuccesses = 0
			}
		}
	}
}

func (s *modelState) openBreakerLocked(now time.Time) {
	s.breaker.state = circuitOpen
	s.breaker.openedAt = now
	s.breaker.halfOpenSuccesses = 0
}

func effectiveOpenDuration(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func clampFloat(v, min, max float64) float64 {
	if min > 0 && v < min {
		v = min
	}
	if max > 0 && v > max {
		v = max
	}
	return v
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// ModelLimiter tracks an independent rate/breaker state per model id, so a
// degraded fallback model doesn't inherit the primary's open circuit.
type ModelLimiter struct {
	clk clock.Clock
	cfg LimiterConfig

	mu     sync.Mutex
	states map[string]*modelState
}

func NewModelLimiter(clk clock.Clock, cfg LimiterConfig) *ModelLimiter {
	if cfg == (LimiterConfig{}) {
		cfg = defaultLimiterConfig()
	}
	return &ModelLimiter{clk: clk, cfg: cfg, states: make(map[string]*modelState)}
}

func (l *ModelLimiter) stateFor(modelID string) *modelState {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[modelID]
	if !ok {
		s = newModelState(l.cfg)
		l.states[modelID] = s
	}
	return s
}

// Allow reports whether modelID may be called right now.
func (l *ModelLimiter) Allow(modelID string) bool {
	return l.stateFor(modelID).Allow(l.clk.Now())
}

// Report records the outcome of a call against modelID.
func (l *ModelLimiter) Report(modelID string, fb Feedback) {
	l.stateFor(modelID).Report(l.clk.Now(), fb)
}
