package configx

import "sync"

// MetricsRecorder receives counters for config lifecycle operations. Kept
// separate from the otel-backed telemetry provider so configx has no import
// dependency on the telemetry package, matching the teacher's layering.
type MetricsRecorder interface {
	IncApply(success bool)
	IncRollback()
	IncValidationError()
	ObserveVersion(version int64)
}

// InMemoryMetrics is a MetricsRecorder for tests and for environments that
// have not wired an otel provider.
type InMemoryMetrics struct {
	mu               sync.Mutex
	ApplySuccess     int
	ApplyFailure     int
	Rollbacks        int
	ValidationErrors int
	LastVersion      int64
}

func NewInMemoryMetrics() *InMemoryMetrics { return &InMemoryMetrics{} }

func (m *InMemoryMetrics) IncApply(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.ApplySuccess++
	} else {
		m.ApplyFailure++
	}
}

func (m *InMemoryMetrics) IncRollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rollbacks++
}

func (m *InMemoryMetrics) IncValidationError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidationErrors++
}

func (m *InMemoryMetrics) ObserveVersion(version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastVersion = version
}

// noopMetrics discards everything; used as a safe default when no recorder
// is wired.
type noopMetrics struct{}

func (noopMetrics) IncApply(bool)          {}
func (noopMetrics) IncRollback()           {}
func (noopMetrics) IncValidationError()    {}
func (noopMetrics) ObserveVersion(int64)   {}

var _ MetricsRecorder = noopMetrics{}
