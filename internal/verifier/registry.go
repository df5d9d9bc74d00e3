// Package verifier manages the set of authorized attestors. Verifiers are
// registered and deactivated only by the administrative principal; history
// is retained across deactivation so past votes remain valid evidence.
package verifier

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/storage"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// NeutralReputation is the reputation score assigned at registration.
	NeutralReputation = 50

	// MaxReputation is the upper bound of the reputation counter.
	MaxReputation = 100
)

// verifierKeyPrefix is the Pebble key prefix for verifier records.
var verifierKeyPrefix = []byte("v:")

var (
	// ErrUnauthorized is returned when the caller is not the administrator.
	ErrUnauthorized = errors.New("caller is not the administrator")

	// ErrValidation is returned for zero identity or qualifications.
	ErrValidation = errors.New("invalid verifier input")

	// ErrAlreadyRegistered is returned when the identity is already active.
	ErrAlreadyRegistered = errors.New("verifier already registered")

	// ErrNotActive is returned when deactivating an identity that is not active.
	ErrNotActive = errors.New("verifier not active")

	// ErrUnknown is returned for operations on an unregistered identity.
	ErrUnknown = errors.New("unknown verifier")
)

// Verifier is one authorized attestor.
type Verifier struct {
	Identity           commitment.Digest       // Identity is the attestor's stable identifier
	QualificationsHash commitment.Digest       // QualificationsHash commits to off-chain credentials
	BLSPublicKey       [BLSPublicKeySize]byte  // BLSPublicKey verifies the attestor's vote signatures
	Active             bool                    // Active gates future votes; history survives deactivation
	VerificationCount  uint64                  // VerificationCount is the monotonic vote counter
	ReputationScore    uint8                   // ReputationScore is bounded to [0, MaxReputation]
	RegisteredAt       int64                   // RegisteredAt is the first registration time
}

// Registry holds all verifier records, indexed for O(1) active checks.
// It is safe for concurrent access.
type Registry struct {
	mu     sync.RWMutex
	admin  commitment.Digest
	db     *storage.Storage
	events *event.Log
	byID   map[commitment.Digest]*Verifier
}

// NewRegistry opens the registry, loading existing records from storage.
// Only the given admin identity may register or deactivate verifiers.
func NewRegistry(db *storage.Storage, admin commitment.Digest, events *event.Log) (*Registry, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: admin identity is zero", ErrValidation)
	}

	r := &Registry{
		admin:  admin,
		db:     db,
		events: events,
		byID:   make(map[commitment.Digest]*Verifier),
	}

	err := db.IteratePrefix(verifierKeyPrefix, func(key, value []byte) error {
		v, err := decodeVerifier(value)
		if err != nil {
			return fmt.Errorf("decode verifier %x: %w", key, err)
		}

		r.byID[v.Identity] = v

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load verifiers: %w", err)
	}

	logger.Info("verifier registry loaded", "verifiers", len(r.byID))

	return r, nil
}

// Register authorizes a new attestor with neutral reputation. A previously
// deactivated identity is reactivated with its history retained.
func (r *Registry) Register(caller, identity, qualifications commitment.Digest, blsPub [BLSPublicKeySize]byte) error {
	if caller != r.admin {
		return ErrUnauthorized
	}

	if identity.IsZero() {
		return fmt.Errorf("%w: identity is zero", ErrValidation)
	}

	if qualifications.IsZero() {
		return fmt.Errorf("%w: qualifications hash is zero", ErrValidation)
	}

	if blsPub == ([BLSPublicKeySize]byte{}) {
		return fmt.Errorf("%w: BLS public key is zero", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[identity]
	if ok && existing.Active {
		return ErrAlreadyRegistered
	}

	if ok {
		// Soft-deleted record: reactivate, keep counters.
		existing.Active = true
		existing.QualificationsHash = qualifications
		existing.BLSPublicKey = blsPub

		if err := r.persist(existing); err != nil {
			existing.Active = false
			return err
		}
	} else {
		v := &Verifier{
			Identity:           identity,
			QualificationsHash: qualifications,
			BLSPublicKey:       blsPub,
			Active:             true,
			ReputationScore:    NeutralReputation,
			RegisteredAt:       time.Now().Unix(),
		}

		if err := r.persist(v); err != nil {
			return err
		}

		r.byID[identity] = v
	}

	r.emit(event.VerifierRegistered(identity))
	logger.Info("verifier registered", "identity", identity)

	return nil
}

// Deactivate soft-deletes a verifier: past votes remain valid evidence,
// future votes are rejected.
func (r *Registry) Deactivate(caller, identity commitment.Digest) error {
	if caller != r.admin {
		return ErrUnauthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[identity]
	if !ok || !v.Active {
		return ErrNotActive
	}

	v.Active = false

	if err := r.persist(v); err != nil {
		v.Active = true
		return err
	}

	r.emit(event.VerifierDeactivated(identity))
	logger.Info("verifier deactivated", "identity", identity)

	return nil
}

// Get returns a snapshot of the verifier record.
func (r *Registry) Get(identity commitment.Digest) (Verifier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[identity]
	if !ok {
		return Verifier{}, false
	}

	return *v, true
}

// IsActive reports whether the identity is a registered, active verifier.
func (r *Registry) IsActive(identity commitment.Digest) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[identity]

	return ok && v.Active
}

// BLSKey returns the verifier's BLS public key.
func (r *Registry) BLSKey(identity commitment.Digest) ([BLSPublicKeySize]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byID[identity]
	if !ok {
		return [BLSPublicKeySize]byte{}, false
	}

	return v.BLSPublicKey, true
}

// Active returns snapshots of all active verifiers.
func (r *Registry) Active() []Verifier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Verifier

	for _, v := range r.byID {
		if v.Active {
			out = append(out, *v)
		}
	}

	return out
}

// Count returns the total number of verifier records, active or not.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// RecordVote increments the verifier's activity counter and bumps its
// reputation. Calls for the same verifier on different contributions are
// serialized by the registry mutex.
func (r *Registry) RecordVote(identity commitment.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.byID[identity]
	if !ok {
		return ErrUnknown
	}

	v.VerificationCount++

	if v.ReputationScore < MaxReputation {
		v.ReputationScore++
	}

	return r.persist(v)
}

// persist writes the record to storage. Caller holds the registry mutex.
func (r *Registry) persist(v *Verifier) error {
	if err := r.db.Set(makeKey(v.Identity), encodeVerifier(v)); err != nil {
		return fmt.Errorf("persist verifier: %w", err)
	}

	return nil
}

// emit appends an event if the registry has a log attached.
func (r *Registry) emit(evt event.Event) {
	if r.events == nil {
		return
	}

	if err := r.events.Append(evt); err != nil {
		logger.Error("append verifier event", "error", err)
	}
}

// makeKey builds the Pebble key for an identity: "v:" + identity.
func makeKey(identity commitment.Digest) []byte {
	key := make([]byte, len(verifierKeyPrefix)+len(identity))
	copy(key, verifierKeyPrefix)
	copy(key[len(verifierKeyPrefix):], identity[:])
	return key
}
