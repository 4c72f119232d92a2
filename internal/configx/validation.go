package configx

import "errors"

var (
	ErrInvalidRolloutMode   = errors.New("invalid rollout mode")
	ErrPercentageOutOfRange = errors.New("rollout percentage out of range")
	ErrNegativeRetryConfig  = errors.New("negative retry config")
	ErrInvalidThresholds    = errors.New("mid threshold must be below high threshold")
	ErrNegativeConcurrency  = errors.New("negative worker concurrency")
)

// ValidateSpec performs structural and semantic validation of a candidate
// configuration before it is committed to the store.
func ValidateSpec(spec *PulseConfigSpec) error {
	if spec == nil {
		return errors.New("nil spec")
	}
	if spec.Rollout != nil {
		mode := spec.Rollout.Mode
		if mode == "" {
			mode = "full"
		}
		switch mode {
		case "full":
		case "percentage":
			if spec.Rollout.Percentage < 0 || spec.Rollout.Percentage > 100 {
				return ErrPercentageOutOfRange
			}
		case "cohort":
		default:
			return ErrInvalidRolloutMode
		}
	}
	if spec.Global != nil && spec.Global.RetryPolicy != nil {
		if spec.Global.RetryPolicy.MaxRetries < 0 || spec.Global.RetryPolicy.InitialDelay < 0 {
			return ErrNegativeRetryConfig
		}
	}
	if spec.AI != nil && spec.AI.MidThreshold > 0 && spec.AI.HighThreshold > 0 {
		if spec.AI.MidThreshold >= spec.AI.HighThreshold {
			return ErrInvalidThresholds
		}
	}
	if spec.Pipeline != nil && spec.Pipeline.WorkerConcurrency < 0 {
		return ErrNegativeConcurrency
	}
	return nil
}
