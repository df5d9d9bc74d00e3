// Package event is the append-only notification log: every protocol
// transition is recorded as a typed, sequenced message that external
// indexers can replay and live subscribers can follow.
package event

import (
	"time"

	"github.com/Omnipath2025/equipath/internal/commitment"
)

// Type identifies the kind of protocol event.
type Type string

const (
	TypeContributionSubmitted Type = "contribution_submitted"
	TypeContributionVerified  Type = "contribution_verified"
	TypeStatusChanged         Type = "status_changed"
	TypeVerifierRegistered    Type = "verifier_registered"
	TypeVerifierDeactivated   Type = "verifier_deactivated"
	TypeDisputeResolved       Type = "dispute_resolved"
)

// Event is one entry in the log. Sequence is assigned at append time and is
// strictly increasing with no gaps.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Type       Type              `json:"type"`
	Commitment commitment.Digest `json:"commitment"`
	Verifier   commitment.Digest `json:"verifier,omitzero"`
	IsValid    bool              `json:"isValid,omitempty"`
	OldStatus  string            `json:"oldStatus,omitempty"`
	NewStatus  string            `json:"newStatus,omitempty"`
	Timestamp  int64             `json:"timestamp"`
}

// Submitted builds a ContributionSubmitted event.
func Submitted(c commitment.Digest) Event {
	return Event{
		Type:       TypeContributionSubmitted,
		Commitment: c,
		Timestamp:  time.Now().Unix(),
	}
}

// Verified builds a ContributionVerified event for one recorded vote.
func Verified(c, verifier commitment.Digest, isValid bool) Event {
	return Event{
		Type:       TypeContributionVerified,
		Commitment: c,
		Verifier:   verifier,
		IsValid:    isValid,
		Timestamp:  time.Now().Unix(),
	}
}

// StatusChanged builds a StatusChanged event.
func StatusChanged(c commitment.Digest, oldStatus, newStatus string) Event {
	return Event{
		Type:       TypeStatusChanged,
		Commitment: c,
		OldStatus:  oldStatus,
		NewStatus:  newStatus,
		Timestamp:  time.Now().Unix(),
	}
}

// VerifierRegistered builds a VerifierRegistered event.
func VerifierRegistered(identity commitment.Digest) Event {
	return Event{
		Type:      TypeVerifierRegistered,
		Verifier:  identity,
		Timestamp: time.Now().Unix(),
	}
}

// VerifierDeactivated builds a VerifierDeactivated event.
func VerifierDeactivated(identity commitment.Digest) Event {
	return Event{
		Type:      TypeVerifierDeactivated,
		Verifier:  identity,
		Timestamp: time.Now().Unix(),
	}
}

// DisputeResolved builds a DisputeResolved event.
func DisputeResolved(c commitment.Digest, newStatus string) Event {
	return Event{
		Type:       TypeDisputeResolved,
		Commitment: c,
		NewStatus:  newStatus,
		Timestamp:  time.Now().Unix(),
	}
}
