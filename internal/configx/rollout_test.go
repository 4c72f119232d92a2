package configx

import "testing"

func TestRolloutEvaluator_Full(t *testing.T) {
	s := NewVersionedStore()
	spec := &PulseConfigSpec{Pipeline: &PipelineConfigSection{WorkerConcurrency: 1}, Rollout: &RolloutSpec{Mode: "full"}}
	vc, err := s.Append(spec, "actor", "", 0)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	ev := NewRolloutEvaluator(s)
	if got := ev.ActiveVersionForUser("user-any"); got != vc.Version {
		t.Fatalf("expected head version")
	}
}

func TestRolloutEvaluator_Percentage(t *testing.T) {
	s := NewVersionedStore()
	base, _ := s.Append(&PulseConfigSpec{Global: &GlobalConfigSection{LoggingLevel: "info"}}, "actor", "", 0)
	head, _ := s.Append(&PulseConfigSpec{Global: &GlobalConfigSection{LoggingLevel: "debug"}, Rollout: &RolloutSpec{Mode: "percentage", Percentage: 25}}, "actor", "", base.Version)
	ev := NewRolloutEvaluator(s)
	users := []string{"user-alpha", "user-beta", "user-gamma", "user-delta", "user-epsilon", "user-zeta", "user-eta", "user-theta", "user-iota", "user-kappa"}
	var sawBase, sawHead bool
	for _, u := range users {
		v := ev.ActiveVersionForUser(u)
		switch v {
		case head.Version:
			sawHead = true
		case base.Version:
			sawBase = true
		default:
			t.Fatalf("unexpected version %d for user %s", v, u)
		}
	}
	if !sawBase || !sawHead {
		t.Fatalf("expected mixture base=%v head=%v", sawBase, sawHead)
	}
}

func TestRolloutEvaluator_Cohort(t *testing.T) {
	s := NewVersionedStore()
	base, _ := s.Append(&PulseConfigSpec{Global: &GlobalConfigSection{LoggingLevel: "info"}}, "actor", "", 0)
	head, _ := s.Append(&PulseConfigSpec{Global: &GlobalConfigSection{LoggingLevel: "debug"}, Rollout: &RolloutSpec{Mode: "cohort", CohortUserIDs: []string{"user-target"}}}, "actor", "", base.Version)
	ev := NewRolloutEvaluator(s)
	if v := ev.ActiveVersionForUser("user-target"); v != head.Version {
		t.Fatalf("target user should get head version")
	}
	if v := ev.ActiveVersionForUser("user-other"); v != base.Version {
		t.Fatalf("non-cohort user should get base version got %d want %d", v, base.Version)
	}
}
