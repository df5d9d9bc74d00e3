package attribution

import (
	"fmt"
	"sync"
	"time"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/event"
	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/storage"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

// contributionKeyPrefix is the Pebble key prefix for contribution records.
var contributionKeyPrefix = []byte("c:")

// lockStripes is the number of per-commitment lock stripes.
const lockStripes = 256

// Stats summarizes the registry by status.
type Stats struct {
	Pending  uint64 `json:"pending"`
	Verified uint64 `json:"verified"`
	Rejected uint64 `json:"rejected"`
	Disputed uint64 `json:"disputed"`
}

// Total returns the number of contributions across all states.
func (s Stats) Total() uint64 {
	return s.Pending + s.Verified + s.Rejected + s.Disputed
}

// Registry is the contribution state machine. Mutations on one commitment
// are serialized by a striped lock; different commitments proceed in
// parallel.
type Registry struct {
	params    Params
	admin     commitment.Digest
	db        *storage.Storage
	events    *event.Log
	verifiers *verifier.Registry

	locks [lockStripes]sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// NewRegistry opens the attribution registry over existing storage.
// The admin identity is the only principal allowed to resolve disputes.
func NewRegistry(db *storage.Storage, verifiers *verifier.Registry, events *event.Log, admin commitment.Digest, params Params) (*Registry, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	r := &Registry{
		params:    params,
		admin:     admin,
		db:        db,
		events:    events,
		verifiers: verifiers,
	}

	err := db.IteratePrefix(contributionKeyPrefix, func(key, value []byte) error {
		c, err := decodeContribution(value)
		if err != nil {
			return fmt.Errorf("decode contribution %x: %w", key, err)
		}

		r.countStatus(c.Status, 1)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load contributions: %w", err)
	}

	logger.Info("attribution registry loaded", "contributions", r.Stats().Total())

	return r, nil
}

// Params returns the consensus thresholds in effect.
func (r *Registry) Params() Params {
	return r.params
}

// Submit creates a Pending contribution. The commitment must be globally
// unique; duplicates are rejected, never merged.
func (r *Registry) Submit(contributor, c, context, attributionProof commitment.Digest) error {
	if c.IsZero() {
		return fmt.Errorf("%w: commitment is zero", ErrValidation)
	}

	if context.IsZero() {
		return fmt.Errorf("%w: cultural context is zero", ErrValidation)
	}

	if contributor.IsZero() {
		return fmt.Errorf("%w: contributor is zero", ErrValidation)
	}

	if attributionProof.IsZero() {
		return fmt.Errorf("%w: attribution proof is zero", ErrValidation)
	}

	unlock := r.lock(c)
	defer unlock()

	exists, err := r.db.Has(makeContributionKey(c))
	if err != nil {
		return fmt.Errorf("check commitment: %w", err)
	}

	if exists {
		return ErrDuplicateCommitment
	}

	now := time.Now().Unix()
	record := &Contribution{
		Commitment:       c,
		CulturalContext:  context,
		Contributor:      contributor,
		AttributionProof: attributionProof,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.persist(record); err != nil {
		return err
	}

	r.countStatus(StatusPending, 1)
	r.emit(event.Submitted(c))
	logger.Info("contribution submitted", "commitment", c)

	return nil
}

// Attest records one verifier's vote and re-evaluates finalization.
// The signature must be a valid BLS vote signature for the verifier's
// registered key; validation precedes every mutation.
func (r *Registry) Attest(c, verifierID commitment.Digest, isValid bool, signature [attestation.BLSSignatureSize]byte) (Status, error) {
	blsKey, registered := r.verifiers.BLSKey(verifierID)
	if !registered || !r.verifiers.IsActive(verifierID) {
		return StatusPending, fmt.Errorf("%w: verifier %s", ErrUnauthorized, verifierID)
	}

	if !attestation.VerifyVote(signature, c, isValid, blsKey) {
		return StatusPending, fmt.Errorf("%w: bad vote signature from %s", ErrInvalidProof, verifierID)
	}

	unlock := r.lock(c)
	defer unlock()

	record, err := r.load(c)
	if err != nil {
		return StatusPending, err
	}

	if record.Status != StatusPending {
		return record.Status, fmt.Errorf("%w: contribution is %s", ErrInvalidState, record.Status)
	}

	if record.HasVoted(verifierID) {
		return record.Status, fmt.Errorf("%w: verifier %s", ErrDuplicateVote, verifierID)
	}

	record.Votes = append(record.Votes, Vote{
		Verifier:  verifierID,
		IsValid:   isValid,
		Signature: signature,
		CastAt:    time.Now().Unix(),
	})
	record.UpdatedAt = time.Now().Unix()

	oldStatus := record.Status
	r.finalize(record)

	if err := r.persist(record); err != nil {
		return StatusPending, err
	}

	if err := r.verifiers.RecordVote(verifierID); err != nil {
		logger.Error("record verifier vote", "verifier", verifierID, "error", err)
	}

	events := []event.Event{event.Verified(c, verifierID, isValid)}

	if record.Status != oldStatus {
		r.countStatus(oldStatus, -1)
		r.countStatus(record.Status, 1)

		events = append(events, event.StatusChanged(c, oldStatus.String(), record.Status.String()))
		logger.Info("contribution finalized", "commitment", c, "status", record.Status)
	}

	r.emit(events...)

	return record.Status, nil
}

// finalize applies the majority rule in place. Caller holds the stripe lock
// and has already appended the new vote.
func (r *Registry) finalize(record *Contribution) {
	yes, no := record.Tally()
	n := yes + no
	quorum := r.params.MinVerifications

	switch {
	case n >= quorum && yes >= quorum && yes > no:
		record.Status = StatusVerified
		record.Certificate = r.buildCertificate(record)
	case n >= quorum && no >= quorum && no > yes:
		record.Status = StatusRejected
	case n == r.params.MaxVerifications:
		record.Status = StatusDisputed
	}
}

// buildCertificate aggregates the yes-vote signatures into one compact
// proof of verification. Aggregation failure leaves the certificate empty;
// the individual votes remain on the record as evidence.
func (r *Registry) buildCertificate(record *Contribution) []byte {
	var sigs [][]byte

	for _, v := range record.Votes {
		if v.IsValid {
			sig := v.Signature
			sigs = append(sigs, sig[:])
		}
	}

	cert, err := attestation.AggregateSignatures(sigs)
	if err != nil {
		logger.Error("aggregate verification certificate", "commitment", record.Commitment, "error", err)
		return nil
	}

	return cert
}

// ResolveDispute moves a Disputed contribution to Verified or Rejected.
// This is the one non-automatic transition and is restricted to the admin.
func (r *Registry) ResolveDispute(caller, c commitment.Digest, outcome Status) error {
	if caller != r.admin {
		return ErrUnauthorized
	}

	if outcome != StatusVerified && outcome != StatusRejected {
		return fmt.Errorf("%w: resolution outcome must be verified or rejected", ErrValidation)
	}

	unlock := r.lock(c)
	defer unlock()

	record, err := r.load(c)
	if err != nil {
		return err
	}

	if record.Status != StatusDisputed {
		return fmt.Errorf("%w: contribution is %s, resolution requires disputed", ErrInvalidState, record.Status)
	}

	oldStatus := record.Status
	record.Status = outcome
	record.UpdatedAt = time.Now().Unix()

	if outcome == StatusVerified {
		record.Certificate = r.buildCertificate(record)
	}

	if err := r.persist(record); err != nil {
		return err
	}

	r.countStatus(oldStatus, -1)
	r.countStatus(outcome, 1)

	r.emit(
		event.DisputeResolved(c, outcome.String()),
		event.StatusChanged(c, oldStatus.String(), outcome.String()),
	)
	logger.Warn("dispute resolved", "commitment", c, "outcome", outcome)

	return nil
}

// Get returns a snapshot copy of the contribution.
func (r *Registry) Get(c commitment.Digest) (*Contribution, error) {
	unlock := r.lock(c)
	defer unlock()

	record, err := r.load(c)
	if err != nil {
		return nil, err
	}

	return record.Clone(), nil
}

// IsVerified reports whether the contribution reached Verified.
func (r *Registry) IsVerified(c commitment.Digest) (bool, error) {
	record, err := r.Get(c)
	if err != nil {
		return false, err
	}

	return record.Status == StatusVerified, nil
}

// Stats returns the per-status contribution counts.
func (r *Registry) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	return r.stats
}

// lock acquires the stripe lock for a commitment and returns its release.
func (r *Registry) lock(c commitment.Digest) func() {
	m := &r.locks[c[0]]
	m.Lock()
	return m.Unlock
}

// load reads a contribution record. Caller holds the stripe lock.
func (r *Registry) load(c commitment.Digest) (*Contribution, error) {
	data, err := r.db.Get(makeContributionKey(c))
	if err != nil {
		return nil, fmt.Errorf("read contribution: %w", err)
	}

	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c)
	}

	return decodeContribution(data)
}

// persist writes a contribution record. Caller holds the stripe lock.
func (r *Registry) persist(c *Contribution) error {
	if err := r.db.Set(makeContributionKey(c.Commitment), encodeContribution(c)); err != nil {
		return fmt.Errorf("persist contribution: %w", err)
	}

	return nil
}

// countStatus adjusts the in-memory status counters.
func (r *Registry) countStatus(s Status, delta int64) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()

	switch s {
	case StatusPending:
		r.stats.Pending = uint64(int64(r.stats.Pending) + delta)
	case StatusVerified:
		r.stats.Verified = uint64(int64(r.stats.Verified) + delta)
	case StatusRejected:
		r.stats.Rejected = uint64(int64(r.stats.Rejected) + delta)
	case StatusDisputed:
		r.stats.Disputed = uint64(int64(r.stats.Disputed) + delta)
	}
}

// emit appends events if the registry has a log attached.
func (r *Registry) emit(events ...event.Event) {
	if r.events == nil {
		return
	}

	if err := r.events.Append(events...); err != nil {
		logger.Error("append attribution events", "error", err)
	}
}

// makeContributionKey builds the Pebble key for a commitment: "c:" + digest.
func makeContributionKey(c commitment.Digest) []byte {
	key := make([]byte, len(contributionKeyPrefix)+len(c))
	copy(key, contributionKeyPrefix)
	copy(key[len(contributionKeyPrefix):], c[:])
	return key
}
