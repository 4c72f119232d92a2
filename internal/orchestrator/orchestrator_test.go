package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"pulsecore/internal/admission"
	"pulsecore/internal/audit"
	"pulsecore/internal/clock"
	"pulsecore/internal/configx"
	"pulsecore/internal/dlq"
	"pulsecore/internal/enhancer/premium"
	"pulsecore/internal/errkind"
	"pulsecore/internal/ingest"
	"pulsecore/internal/pulse"
	"pulsecore/internal/stream"
	"pulsecore/internal/telemetry/metrics"
	"pulsecore/internal/telemetry/tracing"
)

type fakeSource struct {
	acked []int64
}

func (f *fakeSource) Receive(ctx context.Context) (stream.Event, error) {
	return stream.Event{}, context.Canceled
}
func (f *fakeSource) Ack(ctx context.Context, event stream.Event) error {
	f.acked = append(f.acked, event.SequenceID)
	return nil
}

type fakeAdmission struct {
	decision admission.Decision
	calls    int
}

func (f *fakeAdmission) Decide(ctx context.Context, p *pulse.Pulse, profile pulse.UserProfile, history pulse.HistorySummary) admission.Decision {
	f.calls++
	return f.decision
}

type fakeEnhancer struct {
	errs    []error
	result  premium.Result
	calls   int
}

func (f *fakeEnhancer) Enhance(ctx context.Context, in premium.Input) (premium.Result, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) {
		return premium.Result{}, f.errs[idx]
	}
	return f.result, nil
}

type fakeProfiles struct {
	profile pulse.UserProfile
	history pulse.HistorySummary
	calls   int
}

func (f *fakeProfiles) Profile(ctx context.Context, userID string) (pulse.UserProfile, error) {
	f.calls++
	return f.profile, nil
}
func (f *fakeProfiles) History(ctx context.Context, userID string) (pulse.HistorySummary, error) {
	return f.history, nil
}

type fakeConfig struct {
	retryPolicy *configx.RetryPolicySpec
	deadline    time.Duration
}

func (f *fakeConfig) WorkerConcurrency(ctx context.Context, userID string) int { return 1 }
func (f *fakeConfig) EventDeadline(ctx context.Context, userID string) time.Duration {
	if f.deadline <= 0 {
		return 5 * time.Second
	}
	return f.deadline
}
func (f *fakeConfig) RetryPolicy(ctx context.Context, userID string) *configx.RetryPolicySpec {
	return f.retryPolicy
}

type fakeWriter struct {
	errs  []error
	calls int
}

func (f *fakeWriter) Persist(ctx context.Context, p *pulse.Pulse) (ingest.Ack, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.errs) {
		return ingest.Ack{}, f.errs[idx]
	}
	return ingest.Ack{PulseID: p.PulseID}, nil
}

func validPulse(id string) *pulse.Pulse {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stop := start.Add(10 * time.Minute)
	return &pulse.Pulse{
		PulseID:                  id,
		UserID:                   "u1",
		Phase:                    pulse.PhaseStopped,
		Intent:                   "ship the feature",
		Reflection:               "finally got clarity on the approach",
		StartTime:                start,
		StoppedAt:                stop,
		EffectiveDurationSeconds: 600,
	}
}

func noRetryPolicy() *configx.RetryPolicySpec {
	return &configx.RetryPolicySpec{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}
}

func buildOrchestrator(t *testing.T, source *fakeSource, adm *fakeAdmission, enh *fakeEnhancer, writer *fakeWriter, profiles *fakeProfiles, cfg *fakeConfig, auditStore audit.Store, dlqQueue *dlq.MemoryQueue) *Orchestrator {
	t.Helper()
	clk := &clock.Frozen{At: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)}
	return New(source, adm, enh, writer, dlqQueue, auditStore, profiles, cfg, clk)
}

func TestHandleEvent_AIWorthyHappyPath(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{AIWorthy: true, Reason: pulse.ReasonHighWorthiness, Score: 0.9}}
	enh := &fakeEnhancer{result: premium.Result{
		GenTitle: "Shipped It",
		GenBadge: "breakthrough",
		Insights: pulse.AIInsights{ProductivityScore: 80, KeyInsight: "focus paid off"},
		Event:    pulse.AIUsageEvent{UserID: "u1", PulseID: "p1", ActualCostCents: 3, Outcome: pulse.OutcomeAdmittedEnhanced},
	}}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierPremium}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	auditStore := audit.NewMemoryStore()
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, auditStore, dlqQueue)

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p1"), SequenceID: 1}
	o.handleEvent(context.Background(), event)

	if writer.calls != 1 {
		t.Fatalf("expected writer.Persist called once, got %d", writer.calls)
	}
	if len(source.acked) != 1 || source.acked[0] != 1 {
		t.Fatalf("expected event 1 acked, got %v", source.acked)
	}
	entries, _ := dlqQueue.List(context.Background())
	if len(entries) != 0 {
		t.Fatalf("expected no dead-lettered entries, got %d", len(entries))
	}
	byPulse, _ := auditStore.ByPulse(context.Background(), "p1")
	if byPulse == nil || byPulse.ActualCostCents != 3 {
		t.Fatalf("expected audit event recorded for p1, got %+v", byPulse)
	}
	if !event.Pulse.AIEnhanced || event.Pulse.GenTitle != "Shipped It" {
		t.Fatalf("expected pulse mutated with AI enhancement, got %+v", event.Pulse)
	}
}

func TestHandleEvent_PremiumUnavailableFallsBackToRuleEnhancer(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{AIWorthy: true, Reason: pulse.ReasonHighWorthiness, Score: 0.9}}
	enh := &fakeEnhancer{errs: []error{errkind.ErrPremiumUnavailable}}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	p := validPulse("p2")
	event := stream.Event{Kind: stream.EventInsert, Pulse: p, SequenceID: 2}
	o.handleEvent(context.Background(), event)

	if writer.calls != 1 {
		t.Fatalf("expected writer.Persist called once despite premium fallback, got %d", writer.calls)
	}
	if p.AIEnhanced {
		t.Fatalf("expected ai_enhanced=false on rule-enhancer fallback")
	}
	if p.SelectionInfo.DecisionReason != pulse.ReasonPremiumUnavailable {
		t.Fatalf("expected decision_reason overwritten to premium_unavailable, got %q", p.SelectionInfo.DecisionReason)
	}
	if p.GenTitle == "" {
		t.Fatalf("expected rule enhancer to still produce a title")
	}
	if len(source.acked) != 1 {
		t.Fatalf("expected event acked after successful degrade-and-persist")
	}
}

func TestHandleEvent_DedupesRedeliveredPulseID(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{Reason: pulse.ReasonBelowThreshold}}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p3"), SequenceID: 3}
	o.handleEvent(context.Background(), event)
	if profiles.calls != 1 || writer.calls != 1 {
		t.Fatalf("expected first delivery to process fully, got profile calls=%d writer calls=%d", profiles.calls, writer.calls)
	}

	redelivered := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p3"), SequenceID: 4}
	o.handleEvent(context.Background(), redelivered)

	if profiles.calls != 1 || writer.calls != 1 {
		t.Fatalf("expected redelivery to be deduped without reprocessing, got profile calls=%d writer calls=%d", profiles.calls, writer.calls)
	}
	if len(source.acked) != 2 {
		t.Fatalf("expected both deliveries acked, got %v", source.acked)
	}
}

func TestHandleEvent_RetriesTransientEnhancerFailureThenSucceeds(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{AIWorthy: true, Reason: pulse.ReasonHighWorthiness, Score: 0.95}}
	enh := &fakeEnhancer{
		errs:   []error{errkind.Wrap(errkind.KindTransient, errors.New("temporary network blip"))},
		result: premium.Result{GenTitle: "Recovered", GenBadge: "steady", Event: pulse.AIUsageEvent{UserID: "u1", PulseID: "p5"}},
	}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierPremium}}
	cfg := &fakeConfig{retryPolicy: &configx.RetryPolicySpec{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p5"), SequenceID: 5}
	o.handleEvent(context.Background(), event)

	if enh.calls != 2 {
		t.Fatalf("expected one retry (two total calls), got %d", enh.calls)
	}
	if writer.calls != 1 {
		t.Fatalf("expected a single successful persist after recovery, got %d", writer.calls)
	}
	if len(source.acked) != 1 {
		t.Fatalf("expected the event acked after recovery")
	}
}

func TestHandleEvent_RetryExhaustionRoutesToDLQWithoutAckingUntilEnqueued(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{Reason: pulse.ReasonBelowThreshold}}
	enh := &fakeEnhancer{}
	persistErr := errkind.Wrap(errkind.KindTransient, errors.New("database is locked"))
	writer := &fakeWriter{errs: []error{persistErr, persistErr, persistErr}}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: &configx.RetryPolicySpec{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p6"), SequenceID: 6}
	o.handleEvent(context.Background(), event)

	if writer.calls != 3 {
		t.Fatalf("expected initial attempt plus 2 retries (3 total), got %d", writer.calls)
	}
	entries, _ := dlqQueue.List(context.Background())
	if len(entries) != 1 || entries[0].Event.SequenceID != 6 {
		t.Fatalf("expected the event dead-lettered after retry exhaustion, got %+v", entries)
	}
	if len(source.acked) != 1 {
		t.Fatalf("expected the event acked only after the dead-letter enqueue succeeded, got %v", source.acked)
	}
}

type failingDLQ struct{}

func (failingDLQ) Enqueue(ctx context.Context, entry dlq.Entry) error {
	return errors.New("dlq store unavailable")
}
func (failingDLQ) List(ctx context.Context) ([]dlq.Entry, error) { return nil, nil }
func (failingDLQ) Remove(ctx context.Context, sequenceID int64) error { return nil }

func TestHandleEvent_DeadLetterEnqueueFailureLeavesEventUnacked(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	clk := &clock.Frozen{At: time.Now()}
	o := New(source, adm, enh, writer, failingDLQ{}, nil, profiles, cfg, clk)

	poison := stream.Event{Kind: stream.EventInsert, Pulse: &pulse.Pulse{}, SequenceID: 7}
	o.handleEvent(context.Background(), poison)

	if len(source.acked) != 0 {
		t.Fatalf("expected event to remain unacked when the dead-letter enqueue fails, got %v", source.acked)
	}
	if adm.calls != 0 {
		t.Fatalf("expected a poison event to be routed to the DLQ before reaching admission, got %d calls", adm.calls)
	}
}

func TestHandleEvent_PoisonEventRoutesDirectlyToDLQWithoutRetry(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{}
	cfg := &fakeConfig{retryPolicy: &configx.RetryPolicySpec{MaxRetries: 5}}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	poison := stream.Event{Kind: stream.EventInsert, Pulse: &pulse.Pulse{PulseID: "p8", UserID: "u1", Phase: pulse.PhaseStarted}, SequenceID: 8}
	o.handleEvent(context.Background(), poison)

	if adm.calls != 0 || writer.calls != 0 {
		t.Fatalf("expected a poison event to skip admission and persist entirely, got admission=%d writer=%d", adm.calls, writer.calls)
	}
	entries, _ := dlqQueue.List(context.Background())
	if len(entries) != 1 || entries[0].ErrorKind != errkind.KindPoison {
		t.Fatalf("expected a single poison dead-letter entry, got %+v", entries)
	}
	if len(source.acked) != 1 {
		t.Fatalf("expected the event acked once the poison dead-letter enqueue succeeded")
	}
}

func TestHandleEvent_ConflictLogsAndAcksWithoutDeadLettering(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{Reason: pulse.ReasonBelowThreshold}}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{errs: []error{ingest.ErrConflict}}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p9"), SequenceID: 9}
	o.handleEvent(context.Background(), event)

	if writer.calls != 1 {
		t.Fatalf("expected a single persist attempt, no retry of a conflict, got %d", writer.calls)
	}
	entries, _ := dlqQueue.List(context.Background())
	if len(entries) != 0 {
		t.Fatalf("expected a conflict to never reach the dead letter queue, got %+v", entries)
	}
	if len(source.acked) != 1 || source.acked[0] != 9 {
		t.Fatalf("expected the source event acked so the existing record wins, got %v", source.acked)
	}

	redelivered := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p9"), SequenceID: 10}
	o.handleEvent(context.Background(), redelivered)
	if writer.calls != 1 {
		t.Fatalf("expected the pulse_id to be dedupe-marked after a conflict, got %d writer calls", writer.calls)
	}
	if len(source.acked) != 2 {
		t.Fatalf("expected the redelivery to still be acked via the dedupe path, got %v", source.acked)
	}
}

func TestSetMetrics_SwapsInstrumentsWithoutPanicking(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{AIWorthy: false, Reason: pulse.ReasonBelowThreshold}}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)
	o.SetMetrics(metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{}))

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p9"), SequenceID: 9}
	o.handleEvent(context.Background(), event)

	if writer.calls != 1 {
		t.Fatalf("expected writer.Persist called once, got %d", writer.calls)
	}
}

func TestSetTracer_SwapsTracerAndProducesValidSpans(t *testing.T) {
	source := &fakeSource{}
	adm := &fakeAdmission{decision: admission.Decision{AIWorthy: false, Reason: pulse.ReasonBelowThreshold}}
	enh := &fakeEnhancer{}
	writer := &fakeWriter{}
	profiles := &fakeProfiles{profile: pulse.UserProfile{UserID: "u1", Tier: pulse.TierFree}}
	cfg := &fakeConfig{retryPolicy: noRetryPolicy()}
	dlqQueue := dlq.NewMemoryQueue()

	o := buildOrchestrator(t, source, adm, enh, writer, profiles, cfg, nil, dlqQueue)
	o.SetTracer(tracing.NewProvider("pulsecore-test", "test"))

	event := stream.Event{Kind: stream.EventInsert, Pulse: validPulse("p10"), SequenceID: 10}
	o.handleEvent(context.Background(), event)

	if writer.calls != 1 {
		t.Fatalf("expected writer.Persist called once, got %d", writer.calls)
	}
}
