package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulsecore/internal/pulse"
)

func defaultWeights() Weights {
	return Weights{ContentEffort: 0.40, Duration: 0.30, Reflection: 0.20, Frequency: 0.10}
}

func TestScore_TrivialNote(t *testing.T) {
	p := &pulse.Pulse{
		PulseID:                  "p1",
		UserID:                   "u1",
		Intent:                   "note",
		Reflection:               "",
		EffectiveDurationSeconds: 120,
	}
	score, _ := Score(p, pulse.HistorySummary{}, defaultWeights())
	assert.LessOrEqual(t, score, 0.2, "expected a low score for a trivial note")
}

func TestScore_HighWorthiness(t *testing.T) {
	intent := make([]byte, pulse.MaxFieldLen)
	reflection := make([]byte, pulse.MaxFieldLen)
	for i := range intent {
		intent[i] = 'a'
	}
	for i := range reflection {
		reflection[i] = 'b'
	}
	p := &pulse.Pulse{
		PulseID:                  "p2",
		UserID:                   "u2",
		Intent:                   string(intent),
		Reflection:               string(reflection) + " realized breakthrough",
		EffectiveDurationSeconds: 1800,
	}
	score, breakdown := Score(p, pulse.HistorySummary{CompletionsToday: 1}, defaultWeights())
	assert.GreaterOrEqualf(t, score, 0.8, "expected score >= 0.8 for scenario B (breakdown=%+v)", breakdown)
}

func TestScore_DurationFloor(t *testing.T) {
	tests := []struct {
		name     string
		duration int
		want     float64
		positive bool
	}{
		{name: "at the floor", duration: 60, want: 0},
		{name: "just above the floor", duration: 61, positive: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &pulse.Pulse{EffectiveDurationSeconds: tt.duration}
			got := durationScore(p)
			if tt.positive {
				assert.Greater(t, got, 0.0)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScore_IsDeterministic(t *testing.T) {
	p := &pulse.Pulse{
		PulseID:                  "p3",
		Intent:                   "ship the thing",
		Reflection:               "felt good, finally clicked",
		EffectiveDurationSeconds: 900,
		StartTime:                time.Now(),
	}
	h := pulse.HistorySummary{CompletionsToday: 2, AIEnhancedLast7Days: 1}
	s1, _ := Score(p, h, defaultWeights())
	s2, _ := Score(p, h, defaultWeights())
	assert.Equal(t, s1, s2, "expected identical scores for identical inputs")
}

func TestScore_FrequencyDecaysToZero(t *testing.T) {
	tests := []struct {
		name             string
		completionsToday int
	}{
		{name: "at the decay cap", completionsToday: frequencyDecayCap},
		{name: "beyond the decay cap", completionsToday: frequencyDecayCap + 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := frequencyScore(pulse.HistorySummary{CompletionsToday: tt.completionsToday})
			assert.Zero(t, got)
		})
	}
}

func TestScore_ClampedToUnitInterval(t *testing.T) {
	p := &pulse.Pulse{
		Intent:                   string(make([]byte, 10000)),
		Reflection:               string(make([]byte, 10000)),
		EffectiveDurationSeconds: 100000,
	}
	score, _ := Score(p, pulse.HistorySummary{}, Weights{ContentEffort: 1, Duration: 1, Reflection: 1, Frequency: 1})
	assert.LessOrEqual(t, score, 1.0, "expected score clamped to 1.0")
}
