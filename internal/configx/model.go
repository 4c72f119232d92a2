package configx

import "time"

// PulseConfigSpec is the canonical hierarchical configuration payload for the
// pipeline. Layers merge and overlay partial specs to produce a final
// runtime config, mirroring the teacher engine's layered EngineConfigSpec.
type PulseConfigSpec struct {
	Global   *GlobalConfigSection   `json:"global,omitempty"`
	AI       *AIConfigSection       `json:"ai,omitempty"`
	Tiers    map[string]*TierSpec   `json:"tiers,omitempty"`
	Pipeline *PipelineConfigSection `json:"pipeline,omitempty"`
	Rollout  *RolloutSpec           `json:"rollout,omitempty"`
}

// GlobalConfigSection captures cross-cutting limits and behaviors.
type GlobalConfigSection struct {
	RetryPolicy  *RetryPolicySpec `json:"retry_policy,omitempty"`
	LoggingLevel string           `json:"logging_level,omitempty"`
}

// RetryPolicySpec defines retry semantics for enhancer/writer boundaries.
type RetryPolicySpec struct {
	MaxRetries    int           `json:"max_retries,omitempty"`
	InitialDelay  time.Duration `json:"initial_delay,omitempty"`
	MaxDelay      time.Duration `json:"max_delay,omitempty"`
	BackoffFactor float64       `json:"backoff_factor,omitempty"`
}

// AIConfigSection holds the `ai.*` keys from spec.md §6.
type AIConfigSection struct {
	Enabled              bool     `json:"enabled"`
	TargetPercentage     float64  `json:"target_percentage,omitempty"`
	WeightDuration       float64  `json:"weight_duration,omitempty"`
	WeightReflection     float64  `json:"weight_reflection,omitempty"`
	WeightIntent         float64  `json:"weight_intent,omitempty"`
	WeightFrequency      float64  `json:"weight_frequency,omitempty"`
	MaxCostPerPulseCents int      `json:"max_cost_per_pulse_cents,omitempty"`
	ModelPrimary         string   `json:"model_primary,omitempty"`
	ModelFallbacks       []string `json:"model_fallbacks,omitempty"`
	HighThreshold        float64  `json:"high_threshold,omitempty"`
	MidThreshold         float64  `json:"mid_threshold,omitempty"`
	// ModelTariffs maps a model id (as it appears in ModelPrimary/
	// ModelFallbacks) to its cost in cents per 1000 tokens. The Admission
	// Controller uses this to derive estimated_cost_cents; the Premium
	// Enhancer uses it again at reconciliation time against actual token
	// counts.
	ModelTariffs map[string]float64 `json:"model_tariffs,omitempty"`
}

// TierSpec holds `ai.tier.<name>.*` keys plus the free-tier sample quota.
type TierSpec struct {
	DailyCents           int `json:"daily_cents"`
	MonthlyCents         int `json:"monthly_cents"`
	MonthlySampleQuota   int `json:"monthly_sample_quota,omitempty"`
	MinScoreForAdmission float64 `json:"min_score_for_admission,omitempty"`
}

// PipelineConfigSection holds `pipeline.*` keys.
type PipelineConfigSection struct {
	WorkerConcurrency    int `json:"worker_concurrency,omitempty"`
	EventDeadlineSeconds int `json:"event_deadline_seconds,omitempty"`
}

// RolloutSpec declares how a configuration change is rolled out, gated by
// user-id cohort rather than the teacher's domain cohort.
type RolloutSpec struct {
	Mode            string   `json:"mode"` // full|percentage|cohort
	Percentage      int      `json:"percentage,omitempty"`
	CohortUserIDs   []string `json:"cohort_user_ids,omitempty"`
}

// VersionedConfig records a committed configuration along with metadata.
type VersionedConfig struct {
	Version     int64            `json:"version"`
	Spec        *PulseConfigSpec `json:"spec"`
	Hash        string           `json:"hash"`
	AppliedAt   time.Time        `json:"applied_at"`
	Actor       string           `json:"actor"`
	Parent      int64            `json:"parent"`
	DiffSummary string           `json:"diff_summary,omitempty"`
}

// ApplyOptions control how a configuration change is processed.
type ApplyOptions struct {
	Actor        string `json:"actor"`
	DryRun       bool   `json:"dry_run"`
	Force        bool   `json:"force"`
	RolloutStage bool   `json:"rollout_stage"`
}

// Defaults returns the spec.md §6 default values as a fully populated spec.
func Defaults() *PulseConfigSpec {
	return &PulseConfigSpec{
		Global: &GlobalConfigSection{
			RetryPolicy: &RetryPolicySpec{MaxRetries: 3, InitialDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2},
			LoggingLevel: "info",
		},
		AI: &AIConfigSection{
			Enabled:              true,
			TargetPercentage:     0.10,
			WeightDuration:       0.30,
			WeightReflection:     0.20,
			WeightIntent:         0.40,
			WeightFrequency:      0.10,
			MaxCostPerPulseCents: 2,
			ModelPrimary:         "pulse-premium-1",
			ModelFallbacks:       []string{"pulse-premium-fallback-1", "pulse-premium-universal"},
			HighThreshold:        0.8,
			MidThreshold:         0.4,
			ModelTariffs: map[string]float64{
				"pulse-premium-1":          0.9,
				"pulse-premium-fallback-1": 0.5,
				"pulse-premium-universal":  0.2,
			},
		},
		Tiers: map[string]*TierSpec{
			"free":      {DailyCents: 5, MonthlyCents: 18, MonthlySampleQuota: 4, MinScoreForAdmission: 0.8},
			"premium":   {DailyCents: 18, MonthlyCents: 400, MinScoreForAdmission: 0.4},
			"unlimited": {DailyCents: 75, MonthlyCents: 2000, MinScoreForAdmission: 0.4},
		},
		Pipeline: &PipelineConfigSection{WorkerConcurrency: 16, EventDeadlineSeconds: 300},
		Rollout:  &RolloutSpec{Mode: "full"},
	}
}
