package metrics

import (
	"net/http/httptest"
	"testing"
)

func TestNoopProviderBasic(t *testing.T) {
	p := NewNoopProvider()
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "test_counter"}})
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "test_gauge"}})
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "test_hist"}})
	timerCtor := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Name: "test_timer_seconds"}})

	c.Inc(5)
	g.Set(10)
	g.Add(-3)
	h.Observe(123)
	timerCtor().ObserveDuration()
}

func TestPrometheusProviderRegistration(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "events_total", Help: "total events", Labels: []string{"type"}}})
	c.Inc(1, "admitted")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	p.MetricsHandler().ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(rr.Body.Bytes()) == 0 {
		t.Fatalf("expected some metrics output")
	}
}

func TestPrometheusProviderGaugeAndHistogram(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "queue_depth"}})
	g.Set(4)
	g.Add(1)
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "decision_latency_seconds"}})
	h.Observe(0.02)
	if err := p.Health(nil); err != nil {
		t.Fatalf("expected healthy provider, got %v", err)
	}
}

func TestPrometheusProviderInvalidName(t *testing.T) {
	p := NewPrometheusProvider(PrometheusProviderOptions{})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "bad name!"}})
	c.Inc(1)
}

func TestOTelProviderBasic(t *testing.T) {
	p := NewOTelProvider(OTelProviderOptions{ServiceName: "pulsecore-test"})
	c := p.NewCounter(CounterOpts{CommonOpts: CommonOpts{Name: "events_total"}})
	c.Inc(1)
	g := p.NewGauge(GaugeOpts{CommonOpts: CommonOpts{Name: "budget_remaining_cents"}})
	g.Set(500)
	g.Set(480)
	h := p.NewHistogram(HistogramOpts{CommonOpts: CommonOpts{Name: "enhance_latency_seconds"}})
	h.Observe(1.5)
	timerCtor := p.NewTimer(HistogramOpts{CommonOpts: CommonOpts{Name: "write_latency_seconds"}})
	timerCtor().ObserveDuration()
	if err := p.Health(nil); err != nil {
		t.Fatalf("expected healthy otel provider, got %v", err)
	}
}
