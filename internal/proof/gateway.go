// Package proof verifies Groth16 attribution proofs against public inputs.
// The gateway is stateless and side-effect-free: it can be called many
// times, including speculatively, without touching protocol state.
package proof

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	"github.com/Omnipath2025/equipath/internal/commitment"
)

// minProofSize is the minimum plausible size of a serialized Groth16 proof
// (three compressed BN254 group elements). Anything shorter is rejected
// before any deserialization or pairing work.
const minProofSize = 128

var (
	// ErrMalformedProof is returned for proofs with the wrong shape,
	// rejected before any pairing check is attempted.
	ErrMalformedProof = errors.New("malformed proof")

	// ErrInvalidProof is returned when the pairing check fails.
	ErrInvalidProof = errors.New("invalid proof")
)

// PublicInputs is the public-input vector a proof attests to.
type PublicInputs struct {
	CommitmentHash     commitment.Digest // CommitmentHash is the witness commitment
	CulturalContext    commitment.Digest // CulturalContext is the public context identifier
	QualityThreshold   uint64            // QualityThreshold is the minimum aggregate score
	ExpectedAttributes commitment.Digest // ExpectedAttributes is the metrics commitment
}

// Gateway verifies attribution proofs against a fixed verifying key.
type Gateway struct {
	vk groth16.VerifyingKey
}

// NewGateway creates a gateway from a verifying key.
func NewGateway(vk groth16.VerifyingKey) *Gateway {
	return &Gateway{vk: vk}
}

// GatewayFromBytes creates a gateway from a serialized verifying key.
func GatewayFromBytes(vkBytes []byte) (*Gateway, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)

	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}

	return &Gateway{vk: vk}, nil
}

// Verify checks that proofBytes validly attests to the public-input vector.
// Shape errors return ErrMalformedProof on the cheap rejection path;
// a failed pairing check returns ErrInvalidProof.
func (g *Gateway) Verify(proofBytes []byte, pub PublicInputs) error {
	if len(proofBytes) < minProofSize {
		return fmt.Errorf("%w: %d bytes", ErrMalformedProof, len(proofBytes))
	}

	p := groth16.NewProof(ecc.BN254)
	if _, err := p.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedProof, err)
	}

	pubWitness, err := publicWitness(pub)
	if err != nil {
		return fmt.Errorf("build public witness: %w", err)
	}

	if err := groth16.Verify(p, g.vk, pubWitness); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	return nil
}

// publicWitness builds the public-only witness in circuit declaration order.
func publicWitness(pub PublicInputs) (witness.Witness, error) {
	assignment := commitment.Circuit{
		CommitmentHash:     digestVar(pub.CommitmentHash),
		CulturalContext:    digestVar(pub.CulturalContext),
		QualityThreshold:   pub.QualityThreshold,
		ExpectedAttributes: digestVar(pub.ExpectedAttributes),
	}

	return frontend.NewWitness(&assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
}

// digestVar converts a digest to a witness assignment value.
func digestVar(d commitment.Digest) *big.Int {
	return new(big.Int).SetBytes(d[:])
}
