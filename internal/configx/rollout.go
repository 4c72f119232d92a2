package configx

import (
	"hash/fnv"
	"strings"
)

// RolloutEvaluator determines which config version should be active for a
// given user based on the rollout strategy of the latest applied
// configuration. A user not yet included in a staged rollout falls back to
// the previous version, letting operators gate a tier-cap or kill-switch
// change to a percentage/cohort of users before a full rollout.
type RolloutEvaluator struct{ Store *VersionedStore }

func NewRolloutEvaluator(store *VersionedStore) *RolloutEvaluator {
	return &RolloutEvaluator{Store: store}
}

// ActiveVersionForUser returns the version number that should be considered
// active for the provided user. Returns 0 if no versions exist.
func (r *RolloutEvaluator) ActiveVersionForUser(userID string) int64 {
	head, ok := r.Store.Head()
	if !ok {
		return 0
	}
	spec := head.Spec
	if spec == nil || spec.Rollout == nil || spec.Rollout.Mode == "full" {
		return head.Version
	}
	switch spec.Rollout.Mode {
	case "percentage":
		if spec.Rollout.Percentage >= 100 {
			return head.Version
		}
		if spec.Rollout.Percentage <= 0 {
			return previousOrHead(head)
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.ToLower(userID)))
		if int(h.Sum32()%100) < spec.Rollout.Percentage {
			return head.Version
		}
		return previousOrHead(head)
	case "cohort":
		lower := strings.ToLower(userID)
		for _, u := range spec.Rollout.CohortUserIDs {
			if strings.ToLower(u) == lower {
				return head.Version
			}
		}
		return previousOrHead(head)
	default:
		return head.Version
	}
}

func previousOrHead(head *VersionedConfig) int64 {
	if head.Parent != 0 {
		return head.Parent
	}
	return head.Version
}
