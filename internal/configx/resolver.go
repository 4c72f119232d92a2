package configx

// Resolver performs layered configuration resolution, merging PulseConfigSpec
// fragments provided per layer into a single effective spec.
//
// Merge semantics (identical precedence model to the teacher's crawl-engine
// resolver):
//   - Precedence: later layers in LayerPrecedenceOrder() override earlier ones.
//   - Section pointers: nil means "no contribution"; non-nil overlays field-wise.
//   - Scalars: higher layer non-zero values overwrite lower (explicit override).
//   - Slices: a non-empty higher layer slice replaces the lower slice entirely.
//   - Maps: merged by key; higher layer entries overwrite conflicting keys.
//   - Rollout is replaced as a unit (higher layer fully controls the strategy).
//
// The resolver never mutates the input specs and always returns a deep copy.
type Resolver struct{}

func NewResolver() *Resolver { return &Resolver{} }

// Layer constants, lowest to highest precedence.
const (
	LayerBuiltin = iota
	LayerFile
	LayerDatabase
	LayerOverride
)

// LayerPrecedenceOrder returns layers in the order they are merged.
func LayerPrecedenceOrder() []int { return []int{LayerBuiltin, LayerFile, LayerDatabase, LayerOverride} }

// Resolve merges the provided specs (indexed by layer constant).
func (r *Resolver) Resolve(layerSpecs map[int]*PulseConfigSpec) *PulseConfigSpec {
	final := &PulseConfigSpec{}
	for _, layer := range LayerPrecedenceOrder() {
		spec := layerSpecs[layer]
		if spec == nil {
			continue
		}
		mergeSpecs(final, spec)
	}
	return final
}

func mergeSpecs(dst, src *PulseConfigSpec) {
	if src.Global != nil {
		if dst.Global == nil {
			dst.Global = &GlobalConfigSection{}
		}
		mergeGlobal(dst.Global, src.Global)
	}
	if src.AI != nil {
		if dst.AI == nil {
			dst.AI = &AIConfigSection{}
		}
		mergeAI(dst.AI, src.AI)
	}
	if src.Tiers != nil {
		if dst.Tiers == nil {
			dst.Tiers = make(map[string]*TierSpec, len(src.Tiers))
		}
		for k, v := range src.Tiers {
			if v == nil {
				continue
			}
			c := *v
			dst.Tiers[k] = &c
		}
	}
	if src.Pipeline != nil {
		if dst.Pipeline == nil {
			dst.Pipeline = &PipelineConfigSection{}
		}
		mergePipeline(dst.Pipeline, src.Pipeline)
	}
	if src.Rollout != nil {
		dst.Rollout = cloneRollout(src.Rollout)
	}
}

func mergeGlobal(dst, src *GlobalConfigSection) {
	if src.LoggingLevel != "" {
		dst.LoggingLevel = src.LoggingLevel
	}
	if src.RetryPolicy != nil {
		if dst.RetryPolicy == nil {
			dst.RetryPolicy = &RetryPolicySpec{}
		}
		*dst.RetryPolicy = *src.RetryPolicy
	}
}

func mergeAI(dst, src *AIConfigSection) {
	// Enabled is a bool; the higher layer is always authoritative once the
	// section itself is present (there is no way to distinguish "false" from
	// "absent" for a non-pointer bool, so presence of the section implies intent).
	dst.Enabled = src.Enabled
	if src.TargetPercentage != 0 {
		dst.TargetPercentage = src.TargetPercentage
	}
	if src.WeightDuration != 0 {
		dst.WeightDuration = src.WeightDuration
	}
	if src.WeightReflection != 0 {
		dst.WeightReflection = src.WeightReflection
	}
	if src.WeightIntent != 0 {
		dst.WeightIntent = src.WeightIntent
	}
	if src.WeightFrequency != 0 {
		dst.WeightFrequency = src.WeightFrequency
	}
	if src.MaxCostPerPulseCents != 0 {
		dst.MaxCostPerPulseCents = src.MaxCostPerPulseCents
	}
	if src.ModelPrimary != "" {
		dst.ModelPrimary = src.ModelPrimary
	}
	if len(src.ModelFallbacks) > 0 {
		dst.ModelFallbacks = cloneStringSlice(src.ModelFallbacks)
	}
	if src.HighThreshold != 0 {
		dst.HighThreshold = src.HighThreshold
	}
	if src.MidThreshold != 0 {
		dst.MidThreshold = src.MidThreshold
	}
	if len(src.ModelTariffs) > 0 {
		if dst.ModelTariffs == nil {
			dst.ModelTariffs = make(map[string]float64, len(src.ModelTariffs))
		}
		for model, centsPer1K := range src.ModelTariffs {
			dst.ModelTariffs[model] = centsPer1K
		}
	}
}

func mergePipeline(dst, src *PipelineConfigSection) {
	if src.WorkerConcurrency != 0 {
		dst.WorkerConcurrency = src.WorkerConcurrency
	}
	if src.EventDeadlineSeconds != 0 {
		dst.EventDeadlineSeconds = src.EventDeadlineSeconds
	}
}

func cloneRollout(r *RolloutSpec) *RolloutSpec {
	if r == nil {
		return nil
	}
	c := *r
	if len(r.CohortUserIDs) > 0 {
		c.CohortUserIDs = cloneStringSlice(r.CohortUserIDs)
	}
	return &c
}

func cloneStringSlice(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneSpec(spec *PulseConfigSpec) *PulseConfigSpec {
	if spec == nil {
		return nil
	}
	c := &PulseConfigSpec{}
	mergeSpecs(c, spec)
	return c
}
