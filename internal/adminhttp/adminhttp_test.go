package adminhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"pulsecore/internal/authctx"
	"pulsecore/internal/dlq"
	"pulsecore/internal/errkind"
	"pulsecore/internal/pulse"
	"pulsecore/internal/stream"
	"pulsecore/internal/telemetry/health"
)

type fakeReplayer struct {
	replayed []int64
	err      error
}

func (f *fakeReplayer) Replay(ctx context.Context, event stream.Event) error {
	if f.err != nil {
		return f.err
	}
	f.replayed = append(f.replayed, event.SequenceID)
	return nil
}

func newTestServer(t *testing.T, queue dlq.Queue, replayer Replayer) (*httptest.Server, func()) {
	t.Helper()
	verifier := authctx.NewVerifier(authctx.Config{Enabled: false})
	s := New(queue, replayer, verifier, health.NewEvaluator(0))
	r := chi.NewRouter()
	s.Mount(r)
	ts := httptest.NewServer(r)
	return ts, ts.Close
}

func TestListEntries_ReturnsDLQContents(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	event := stream.Event{Kind: stream.EventInsert, SequenceID: 1, Pulse: &pulse.Pulse{PulseID: "p1"}}
	queue.Enqueue(context.Background(), dlq.Entry{Event: event, ErrorKind: errkind.KindPoison, Attempts: 1, LastErrorMessage: "bad record"})

	ts, closeFn := newTestServer(t, queue, &fakeReplayer{})
	defer closeFn()

	resp, err := http.Get(ts.URL + "/admin/dlq/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var views []dlqEntryView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 || views[0].PulseID != "p1" || views[0].ErrorKind != "poison" {
		t.Fatalf("unexpected response: %+v", views)
	}
}

func TestReplayEntry_RemovesFromQueueOnSuccess(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	event := stream.Event{Kind: stream.EventInsert, SequenceID: 42, Pulse: &pulse.Pulse{PulseID: "p42"}}
	queue.Enqueue(context.Background(), dlq.Entry{Event: event, ErrorKind: errkind.KindTransient})

	replayer := &fakeReplayer{}
	ts, closeFn := newTestServer(t, queue, replayer)
	defer closeFn()

	resp, err := http.Post(ts.URL+"/admin/dlq/42/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(replayer.replayed) != 1 || replayer.replayed[0] != 42 {
		t.Fatalf("expected event 42 replayed, got %v", replayer.replayed)
	}
	remaining, _ := queue.List(context.Background())
	if len(remaining) != 0 {
		t.Fatalf("expected entry removed from queue after replay, got %d remaining", len(remaining))
	}
}

func TestReplayEntry_UnknownSequenceIDReturnsNotFound(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	ts, closeFn := newTestServer(t, queue, &fakeReplayer{})
	defer closeFn()

	resp, err := http.Post(ts.URL+"/admin/dlq/999/replay", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestHealthz_ReportsEvaluatorRollup(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	verifier := authctx.NewVerifier(authctx.Config{Enabled: false})
	evaluator := health.NewEvaluator(0, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		return health.Unhealthy("ledger", "connection refused")
	}))
	s := New(queue, &fakeReplayer{}, verifier, evaluator)
	r := chi.NewRouter()
	s.Mount(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for an unhealthy probe, got %d", resp.StatusCode)
	}
	var snap health.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Overall != health.StatusUnhealthy {
		t.Fatalf("expected unhealthy overall, got %s", snap.Overall)
	}
}

func TestHealthz_NilEvaluatorReportsUnknown(t *testing.T) {
	queue := dlq.NewMemoryQueue()
	verifier := authctx.NewVerifier(authctx.Config{Enabled: false})
	s := New(queue, &fakeReplayer{}, verifier, nil)
	r := chi.NewRouter()
	s.Mount(r)
	ts := httptest.NewServer(r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a nil evaluator, got %d", resp.StatusCode)
	}
}
