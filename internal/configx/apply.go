package configx

import (
	"errors"
	"strconv"
)

// Applier orchestrates validation, commit, and rollback of configuration
// changes against the VersionedStore, emitting ChangeEvents as it goes.
type Applier struct {
	Store      *VersionedStore
	Dispatcher *Dispatcher
}

func NewApplier(store *VersionedStore, dispatcher *Dispatcher) *Applier {
	return &Applier{Store: store, Dispatcher: dispatcher}
}

// ApplyResult captures the outcome of an apply attempt.
type ApplyResult struct {
	Version int64
	Hash    string
}

// Apply validates the candidate spec and, unless DryRun is set, commits it
// as a new version.
func (a *Applier) Apply(candidate *PulseConfigSpec, opts ApplyOptions) (*ApplyResult, error) {
	if err := ValidateSpec(candidate); err != nil {
		a.emit(ChangeEvent{Type: "validation_error", Actor: opts.Actor, Error: err})
		return nil, err
	}
	if opts.DryRun {
		return &ApplyResult{}, nil
	}
	parent := a.Store.NextVersion() - 1
	vc, err := a.Store.Append(candidate, opts.Actor, "", parent)
	if err != nil {
		a.emit(ChangeEvent{Type: "append_error", Actor: opts.Actor, Error: err})
		return nil, err
	}
	a.emit(ChangeEvent{Type: "apply", Version: vc.Version, Hash: vc.Hash, Actor: opts.Actor, Timestamp: vc.AppliedAt})
	return &ApplyResult{Version: vc.Version, Hash: vc.Hash}, nil
}

// Rollback re-applies a previous version's spec as a new version with a
// rollback diff summary.
func (a *Applier) Rollback(targetVersion int64, actor string) (*ApplyResult, error) {
	vc, ok := a.Store.Get(targetVersion)
	if !ok {
		return nil, errors.New("target version not found")
	}
	parent := a.Store.NextVersion() - 1
	newVC, err := a.Store.Append(vc.Spec, actor, "rollback("+strconv.FormatInt(targetVersion, 10)+")", parent)
	if err != nil {
		return nil, err
	}
	a.emit(ChangeEvent{Type: "rollback", Version: newVC.Version, Hash: newVC.Hash, Actor: actor, Timestamp: newVC.AppliedAt})
	return &ApplyResult{Version: newVC.Version, Hash: newVC.Hash}, nil
}

func (a *Applier) emit(e ChangeEvent) {
	if a.Dispatcher != nil {
		a.Dispatcher.Emit(e)
	}
}
