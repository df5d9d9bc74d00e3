// Package attribution implements the consensus state machine that takes a
// contribution from submission through verifier attestation to a terminal
// status. Contributions reference content only by commitment; no witness
// data ever enters this package.
package attribution

import (
	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/commitment"
)

// Status is the lifecycle state of a contribution.
type Status uint8

const (
	// StatusPending is the only initial state.
	StatusPending Status = iota

	// StatusVerified means a clear majority of verifiers attested validity.
	StatusVerified

	// StatusRejected means a clear majority of verifiers attested invalidity.
	StatusRejected

	// StatusDisputed means the vote budget was exhausted without a majority.
	StatusDisputed
)

// String returns the status name used in events and API responses.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerified:
		return "verified"
	case StatusRejected:
		return "rejected"
	case StatusDisputed:
		return "disputed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no automatic transition leaves this status.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Vote is one verifier's attestation on one contribution.
type Vote struct {
	Verifier  commitment.Digest                     // Verifier identifies the attestor
	IsValid   bool                                  // IsValid is the attested verdict
	Signature [attestation.BLSSignatureSize]byte    // Signature is the BLS vote signature
	CastAt    int64                                 // CastAt is the vote time in Unix seconds
}

// Contribution is the unit of attribution.
type Contribution struct {
	Commitment       commitment.Digest // Commitment uniquely identifies the contribution
	CulturalContext  commitment.Digest // CulturalContext is the public context identifier
	Contributor      commitment.Digest // Contributor identifies the submitter
	AttributionProof commitment.Digest // AttributionProof binds identity and provenance
	Status           Status            // Status is the lifecycle state
	Votes            []Vote            // Votes are ordered, bounded by MaxVerifications
	Certificate      []byte            // Certificate is the aggregated yes-vote signature once Verified
	CreatedAt        int64             // CreatedAt is the submission time
	UpdatedAt        int64             // UpdatedAt is the last mutation time
}

// Clone returns a deep copy safe to hand to callers.
func (c *Contribution) Clone() *Contribution {
	out := *c

	out.Votes = make([]Vote, len(c.Votes))
	copy(out.Votes, c.Votes)

	if c.Certificate != nil {
		out.Certificate = make([]byte, len(c.Certificate))
		copy(out.Certificate, c.Certificate)
	}

	return &out
}

// HasVoted reports whether the verifier already voted on this contribution.
func (c *Contribution) HasVoted(verifier commitment.Digest) bool {
	for _, v := range c.Votes {
		if v.Verifier == verifier {
			return true
		}
	}

	return false
}

// Tally returns the yes and no vote counts.
func (c *Contribution) Tally() (yes, no int) {
	for _, v := range c.Votes {
		if v.IsValid {
			yes++
		} else {
			no++
		}
	}

	return yes, no
}

// Params are the tunable consensus thresholds.
type Params struct {
	MinVerifications int // MinVerifications is the quorum for a terminal majority
	MaxVerifications int // MaxVerifications is the vote budget per contribution
}

// DefaultParams returns the standard consensus thresholds.
func DefaultParams() Params {
	return Params{
		MinVerifications: 3,
		MaxVerifications: 10,
	}
}

// Validate checks that the thresholds are coherent.
func (p Params) Validate() error {
	if p.MinVerifications < 1 {
		return ErrValidation
	}

	if p.MaxVerifications < p.MinVerifications {
		return ErrValidation
	}

	return nil
}
