package attribution

import "errors"

var (
	// ErrValidation is returned for zero or malformed input, before any
	// state change.
	ErrValidation = errors.New("invalid input")

	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("caller not authorized")

	// ErrDuplicateCommitment is returned when a commitment was already
	// submitted.
	ErrDuplicateCommitment = errors.New("commitment already submitted")

	// ErrDuplicateVote is returned when a verifier votes twice on the same
	// contribution.
	ErrDuplicateVote = errors.New("verifier already voted")

	// ErrInvalidState is returned for operations not valid in the current
	// contribution status.
	ErrInvalidState = errors.New("invalid contribution state")

	// ErrInvalidProof is returned when a cryptographic check fails.
	ErrInvalidProof = errors.New("proof verification failed")

	// ErrNotFound is returned for reads of unknown commitments.
	ErrNotFound = errors.New("contribution not found")
)
