package configx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// VersionedStore maintains an append-only log of versioned configurations
// in-memory, giving every applied configuration change a stable, verifiable
// audit trail (spec §9: config cache is single-writer/many-reader; this is
// the writer side of that model).
type VersionedStore struct {
	mu       sync.RWMutex
	versions []*VersionedConfig
	audit    []*AuditRecord
}

func NewVersionedStore() *VersionedStore { return &VersionedStore{} }

// NextVersion returns the next version number that would be assigned.
func (s *VersionedStore) NextVersion() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.versions) + 1)
}

// ListAudit returns a snapshot copy of audit records.
func (s *VersionedStore) ListAudit() []*AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AuditRecord, len(s.audit))
	for i, rec := range s.audit {
		if rec == nil {
			continue
		}
		c := *rec
		out[i] = &c
	}
	return out
}

// Get returns the VersionedConfig for a version number (1-based).
func (s *VersionedStore) Get(version int64) (*VersionedConfig, bool) {
	if version <= 0 {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(version) > len(s.versions) {
		return nil, false
	}
	return cloneVersioned(s.versions[version-1]), true
}

// Head returns the latest versioned config.
func (s *VersionedStore) Head() (*VersionedConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.versions) == 0 {
		return nil, false
	}
	return cloneVersioned(s.versions[len(s.versions)-1]), true
}

var ErrHashMismatch = errors.New("hash mismatch")

// Append stores a new versioned config, assigning the next version number.
func (s *VersionedStore) Append(spec *PulseConfigSpec, actor, diff string, parentExpected int64) (*VersionedConfig, error) {
	if spec == nil {
		return nil, errors.New("nil spec")
	}
	raw, err := canonicalJSON(spec)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(raw)
	hash := hex.EncodeToString(h[:])

	s.mu.Lock()
	defer s.mu.Unlock()
	version := int64(len(s.versions) + 1)
	var parent int64
	if len(s.versions) > 0 {
		parent = s.versions[len(s.versions)-1].Version
	}
	if parent != parentExpected && parentExpected != 0 {
		return nil, errors.New("parent version mismatch")
	}
	vc := &VersionedConfig{
		Version:     version,
		Spec:        cloneSpec(spec),
		Hash:        hash,
		AppliedAt:   time.Now().UTC(),
		Actor:       actor,
		Parent:      parent,
		DiffSummary: diff,
	}
	s.versions = append(s.versions, vc)
	s.audit = append(s.audit, &AuditRecord{Version: version, Hash: hash, Actor: actor, AppliedAt: vc.AppliedAt, Parent: parent, DiffSummary: diff})
	return cloneVersioned(vc), nil
}

// Verify recomputes the hash for a stored version and errors on mismatch.
func (s *VersionedStore) Verify(version int64) error {
	vc, ok := s.Get(version)
	if !ok {
		return errors.New("version not found")
	}
	raw, err := canonicalJSON(vc.Spec)
	if err != nil {
		return err
	}
	h := sha256.Sum256(raw)
	if hex.EncodeToString(h[:]) != vc.Hash {
		return ErrHashMismatch
	}
	return nil
}

func canonicalJSON(spec *PulseConfigSpec) ([]byte, error) { return json.Marshal(spec) }

func cloneVersioned(vc *VersionedConfig) *VersionedConfig {
	if vc == nil {
		return nil
	}
	c := *vc
	c.Spec = cloneSpec(vc.Spec)
	return &c
}
