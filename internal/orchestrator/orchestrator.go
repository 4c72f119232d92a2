// Package orchestrator implements the Pipeline Orchestrator (spec §4.8):
// the component that drives the change-stream, routes each admitted pulse
// through the scorer-admission-enhancer-writer chain, and owns the
// retry/backoff and dead-letter decisions at the stage boundaries that can
// actually fail transiently (the Premium Enhancer and the Ingest Writer).
// It holds no business logic of its own — every decision is delegated to
// the component built for it; the orchestrator is wiring and control flow.
package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"pulsecore/internal/admission"
	"pulsecore/internal/audit"
	"pulsecore/internal/clock"
	"pulsecore/internal/configx"
	"pulsecore/internal/dlq"
	"pulsecore/internal/enhancer/premium"
	"pulsecore/internal/enhancer/rule"
	"pulsecore/internal/errkind"
	"pulsecore/internal/ingest"
	"pulsecore/internal/pulse"
	"pulsecore/internal/stream"
	"pulsecore/internal/telemetry/logctx"
	"pulsecore/internal/telemetry/metrics"
	"pulsecore/internal/telemetry/tracing"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// defaultDedupeCapacity bounds the in-memory redelivery window: a pulse_id
// that falls out of this window is still safe, since the Ingest Writer's
// own content-hash check is the durable source of truth (spec §4.5); this
// cache only saves a wasted scorer/admission/enhancer round trip for the
// common case of a stream redelivering its most recent events.
const defaultDedupeCapacity = 4096

// AdmissionController is the subset of admission.Controller the
// orchestrator depends on, declared here so tests can substitute a fake.
type AdmissionController interface {
	Decide(ctx context.Context, p *pulse.Pulse, profile pulse.UserProfile, history pulse.HistorySummary) admission.Decision
}

// PremiumEnhancer is the subset of premium.Enhancer the orchestrator
// depends on.
type PremiumEnhancer interface {
	Enhance(ctx context.Context, in premium.Input) (premium.Result, error)
}

// ProfileSource resolves the user-scoped inputs the Scorer and Admission
// Controller need. No package built so far owns user profile storage, so
// the orchestrator defines the narrow shape it needs and leaves the
// implementation (a user-service client, a read replica, whatever backs
// production) to the caller that wires an Orchestrator together.
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (pulse.UserProfile, error)
	History(ctx context.Context, userID string) (pulse.HistorySummary, error)
}

// Config is the slice of the Config Resolver the orchestrator consults for
// pool sizing, deadlines, and retry policy.
type Config interface {
	WorkerConcurrency(ctx context.Context, userID string) int
	EventDeadline(ctx context.Context, userID string) time.Duration
	RetryPolicy(ctx context.Context, userID string) *configx.RetryPolicySpec
}

// Orchestrator drives a stream.Source through the enhancement pipeline.
type Orchestrator struct {
	source      stream.Source
	admission   AdmissionController
	enhancer    PremiumEnhancer
	ruleEnhance func(p *pulse.Pulse, tier pulse.Tier) (genTitle, genBadge string)
	writer      ingest.Writer
	dlqQueue    dlq.Queue
	auditStore  audit.Store
	profiles    ProfileSource
	cfg         Config
	clk         clock.Clock

	dedupe *dedupeCache

	randMu sync.Mutex
	rand   *rand.Rand

	metricsProvider metrics.Provider
	eventsTotal     metrics.Counter
	aiEnhancedTotal metrics.Counter
	processDuration metrics.Histogram

	tracer oteltrace.Tracer
}

// SetTracer attaches an OpenTelemetry Tracer, replacing the global no-op
// tracer installed by New. Call it once before Run; it is not safe to call
// concurrently with event processing.
func (o *Orchestrator) SetTracer(tracer oteltrace.Tracer) {
	if tracer == nil {
		tracer = otel.Tracer("pulsecore/orchestrator")
	}
	o.tracer = tracer
}

// SetMetrics attaches a metrics.Provider, replacing the noop instruments
// installed by New. Call it once before Run; it is not safe to call
// concurrently with event processing.
func (o *Orchestrator) SetMetrics(provider metrics.Provider) {
	if provider == nil {
		provider = metrics.NewNoopProvider()
	}
	o.metricsProvider = provider
	o.buildInstruments()
}

func (o *Orchestrator) buildInstruments() {
	o.eventsTotal = o.metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pulsecore", Subsystem: "orchestrator", Name: "events_total",
		Help: "change-stream events handled, by terminal outcome", Labels: []string{"outcome"},
	}})
	o.aiEnhancedTotal = o.metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pulsecore", Subsystem: "orchestrator", Name: "ai_enhanced_total",
		Help: "pulses that received a premium AI enhancement",
	}})
	o.processDuration = o.metricsProvider.NewHistogram(metrics.HistogramOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pulsecore", Subsystem: "orchestrator", Name: "process_duration_seconds",
		Help: "time spent in admission decide + enhance + persist for one pulse",
	}})
}

// New builds an Orchestrator. clk defaults to clock.Real. auditStore may be
// nil, in which case AIUsageEvents are not recorded.
func New(source stream.Source, admissionCtl AdmissionController, enhancer PremiumEnhancer, writer ingest.Writer, dlqQueue dlq.Queue, auditStore audit.Store, profiles ProfileSource, cfg Config, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.Real{}
	}
	o := &Orchestrator{
		source:      source,
		admission:   admissionCtl,
		enhancer:    enhancer,
		ruleEnhance: rule.Enhance,
		writer:      writer,
		dlqQueue:    dlqQueue,
		auditStore:  auditStore,
		profiles:    profiles,
		cfg:         cfg,
		clk:         clk,
		dedupe:      newDedupeCache(defaultDedupeCapacity),
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	o.SetMetrics(metrics.NewNoopProvider())
	o.SetTracer(otel.Tracer("pulsecore/orchestrator"))
	return o
}

// Run starts cfg.WorkerConcurrency worker goroutines, each pulling events
// from source in a loop, and blocks until every worker has stopped. A worker
// stops when Receive returns a cancellation or deadline error; any other
// Receive error is logged and the worker keeps pulling. A panic while
// handling one event is recovered and logged, the event is left unacked,
// and the worker goes on with the next event.
func (o *Orchestrator) Run(ctx context.Context) error {
	n := o.cfg.WorkerConcurrency(ctx, "")
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			o.workerLoop(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		event, err := o.source.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logctx.Error(ctx, "stream receive failed", "error", err)
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					logctx.Error(ctx, "worker recovered from panic, event left unacked", "panic", r, "sequence_id", event.SequenceID)
				}
			}()
			o.handleEvent(ctx, event)
		}()
	}
}

// handleEvent runs the six-step algorithm from spec §4.8 for one INSERT
// event: filter, dedupe, decide, enhance, persist, ack.
func (o *Orchestrator) handleEvent(ctx context.Context, event stream.Event) {
	if event.Kind != stream.EventInsert {
		o.eventsTotal.Inc(1, "filtered")
		if err := o.source.Ack(ctx, event); err != nil {
			logctx.Error(ctx, "ack of non-insert event failed", "error", err, "sequence_id", event.SequenceID)
		}
		return
	}

	if err := stream.Validate(event); err != nil {
		o.deadLetter(ctx, event, err)
		return
	}

	p := event.Pulse
	if o.dedupe.seen(p.PulseID) {
		o.eventsTotal.Inc(1, "deduped")
		if err := o.source.Ack(ctx, event); err != nil {
			logctx.Error(ctx, "ack of deduped event failed", "error", err, "sequence_id", event.SequenceID)
		}
		return
	}

	deadline := o.cfg.EventDeadline(ctx, p.UserID)
	evCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	spanCtx, span := tracing.StartPulseSpan(evCtx, o.tracer, p.PulseID, p.UserID)
	start := o.clk.Now()
	err := o.process(spanCtx, p)
	o.processDuration.Observe(o.clk.Now().Sub(start).Seconds())
	tracing.EndSpan(span, err)
	if err != nil {
		if errkind.Classify(err) == errkind.KindConflict {
			logctx.Warn(ctx, "ingest write conflict, existing record wins", "error", err, "pulse_id", p.PulseID)
			o.eventsTotal.Inc(1, "conflict")
			o.dedupe.mark(p.PulseID)
			if ackErr := o.source.Ack(ctx, event); ackErr != nil {
				logctx.Error(ctx, "ack after conflict failed", "error", ackErr, "sequence_id", event.SequenceID)
			}
			return
		}
		o.deadLetter(ctx, event, err)
		return
	}

	o.eventsTotal.Inc(1, "persisted")
	o.dedupe.mark(p.PulseID)
	if err := o.source.Ack(ctx, event); err != nil {
		logctx.Error(ctx, "ack after successful ingest failed", "error", err, "sequence_id", event.SequenceID)
	}
}

// process runs score/decide/enhance/persist for one validated, deduped
// pulse, mutating p into its ingested shape on success.
func (o *Orchestrator) process(ctx context.Context, p *pulse.Pulse) error {
	profile, err := o.profiles.Profile(ctx, p.UserID)
	if err != nil {
		return err
	}
	history, err := o.profiles.History(ctx, p.UserID)
	if err != nil {
		return err
	}

	decision := o.admission.Decide(ctx, p, profile, history)
	p.SelectionInfo = pulse.SelectionInfo{
		DecisionReason:     decision.Reason,
		WorthinessScore:    decision.Score,
		EstimatedCostCents: decision.EstimatedCostCents,
		CouldBeEnhanced:    decision.CouldBeEnhanced,
		DecidedAt:          o.clk.Now(),
	}

	var (
		genTitle, genBadge string
		insights           *pulse.AIInsights
		aiEnhanced         bool
		costCents          int
	)

	if decision.AIWorthy {
		result, enhanceErr := o.enhanceWithRetry(ctx, premium.Input{
			Pulse:              p,
			Profile:            profile,
			DecisionReason:     decision.Reason,
			Score:              decision.Score,
			EstimatedCostCents: decision.EstimatedCostCents,
		})
		switch {
		case enhanceErr == nil:
			genTitle, genBadge = result.GenTitle, result.GenBadge
			savedInsights := result.Insights
			insights = &savedInsights
			aiEnhanced = true
			costCents = result.Event.ActualCostCents
			o.aiEnhancedTotal.Inc(1)
			if o.auditStore != nil {
				if recErr := o.auditStore.Record(ctx, result.Event); recErr != nil {
					logctx.Error(ctx, "audit record failed", "error", recErr, "pulse_id", p.PulseID)
				}
			}
		case errkind.Classify(enhanceErr) == errkind.KindPremiumUnavailable:
			logctx.Warn(ctx, "premium enhancer unavailable, degrading to rule enhancer", "pulse_id", p.PulseID)
			p.SelectionInfo.DecisionReason = pulse.ReasonPremiumUnavailable
			genTitle, genBadge = o.ruleEnhance(p, profile.Tier)
		default:
			return enhanceErr
		}
	} else {
		genTitle, genBadge = o.ruleEnhance(p, profile.Tier)
	}

	p.Phase = pulse.PhaseIngested
	p.GenTitle = genTitle
	p.GenBadge = genBadge
	p.AIInsights = insights
	p.AIEnhanced = aiEnhanced
	p.AICostCents = costCents
	p.InvertedTimestamp = pulse.InvertTimestamp(p.StoppedAt)

	_, err = o.retryable(ctx, p.UserID, func(ctx context.Context) error {
		_, persistErr := o.writer.Persist(ctx, p)
		return persistErr
	})
	return err
}

func (o *Orchestrator) enhanceWithRetry(ctx context.Context, in premium.Input) (premium.Result, error) {
	var result premium.Result
	_, err := o.retryable(ctx, in.Profile.UserID, func(ctx context.Context) error {
		var enhanceErr error
		result, enhanceErr = o.enhancer.Enhance(ctx, in)
		return enhanceErr
	})
	return result, err
}

// retryable runs op, retrying with exponential backoff and full jitter on
// errors classified as retryable, up to the configured retry policy's
// MaxRetries (spec §4.8, grounded on the teacher's backoffDelay/
// randomizedDelay pair in pipeline.go). A non-retryable error, or exhausting
// the retry budget, returns the last error unchanged.
func (o *Orchestrator) retryable(ctx context.Context, userID string, op func(ctx context.Context) error) (struct{}, error) {
	policy := o.cfg.RetryPolicy(ctx, userID)
	if policy == nil {
		policy = &configx.RetryPolicySpec{}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, lastErr
		}
		kind := errkind.Classify(lastErr)
		if !kind.Retryable() || attempt >= policy.MaxRetries {
			return struct{}{}, lastErr
		}
		o.clk.Sleep(o.backoffDelay(policy, attempt+1))
	}
}

func (o *Orchestrator) backoffDelay(policy *configx.RetryPolicySpec, attempt int) time.Duration {
	base := policy.InitialDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	max := policy.MaxDelay
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := policy.BackoffFactor
	if factor <= 1 {
		factor = 2
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= factor
	}
	capped := time.Duration(delay)
	if capped > max {
		capped = max
	}

	o.randMu.Lock()
	jittered := time.Duration(o.rand.Float64() * float64(capped))
	o.randMu.Unlock()
	return jittered
}

// deadLetter enqueues event to the dead-letter queue and only acks the
// source once the enqueue has durably succeeded (spec §4.8): an Enqueue
// failure leaves the event unacked so the stream redelivers it rather than
// silently losing it.
func (o *Orchestrator) deadLetter(ctx context.Context, event stream.Event, cause error) {
	now := o.clk.Now()
	entry := dlq.Entry{
		Event:            event,
		ErrorKind:        errkind.Classify(cause),
		Attempts:         1,
		FirstSeenAt:      now,
		LastAttemptAt:    now,
		LastErrorMessage: cause.Error(),
	}
	if err := o.dlqQueue.Enqueue(ctx, entry); err != nil {
		logctx.Error(ctx, "dead-letter enqueue failed, leaving event unacked for redelivery", "error", err, "sequence_id", event.SequenceID)
		return
	}
	o.eventsTotal.Inc(1, "dead_letter")
	if err := o.source.Ack(ctx, event); err != nil {
		logctx.Error(ctx, "ack after dead-letter failed", "error", err, "sequence_id", event.SequenceID)
	}
}
