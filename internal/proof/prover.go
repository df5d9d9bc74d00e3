package proof

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"

	"github.com/Omnipath2025/equipath/internal/commitment"
)

// Witness is a full attribution witness on the proving side. This fills the
// role of the off-chain proving toolchain: verifier nodes and tests use it
// to produce (proof, publicInputs) pairs; the registry never sees it.
type Witness struct {
	Content          commitment.Digest        // Content is the private content scalar
	Identity         commitment.Digest        // Identity is the contributor's private identity
	CulturalContext  commitment.Digest        // CulturalContext is the public context identifier
	Timestamp        uint64                   // Timestamp is the witness timestamp
	Metrics          commitment.QualityMetrics // Metrics are the four bounded quality metrics
	QualityThreshold uint64                   // QualityThreshold is the public minimum score
}

// PublicInputs derives the public-input vector this witness commits to.
func (w Witness) PublicInputs() (PublicInputs, error) {
	commitHash, err := commitment.Commit(w.Content, w.Identity, w.CulturalContext, w.Timestamp)
	if err != nil {
		return PublicInputs{}, fmt.Errorf("commit witness: %w", err)
	}

	attrs, err := commitment.MetricsCommitment(w.Metrics)
	if err != nil {
		return PublicInputs{}, fmt.Errorf("commit metrics: %w", err)
	}

	return PublicInputs{
		CommitmentHash:     commitHash,
		CulturalContext:    w.CulturalContext,
		QualityThreshold:   w.QualityThreshold,
		ExpectedAttributes: attrs,
	}, nil
}

// Prove generates a Groth16 proof for the witness.
// Returns the serialized proof and the public inputs it attests to.
func Prove(cs constraint.ConstraintSystem, pk groth16.ProvingKey, w Witness) ([]byte, PublicInputs, error) {
	pub, err := w.PublicInputs()
	if err != nil {
		return nil, PublicInputs{}, err
	}

	assignment := commitment.Circuit{
		CommitmentHash:       digestVar(pub.CommitmentHash),
		CulturalContext:      digestVar(pub.CulturalContext),
		QualityThreshold:     pub.QualityThreshold,
		ExpectedAttributes:   digestVar(pub.ExpectedAttributes),
		Content:              digestVar(w.Content),
		Identity:             digestVar(w.Identity),
		Timestamp:            w.Timestamp,
		Authenticity:         w.Metrics.Authenticity,
		Completeness:         w.Metrics.Completeness,
		Accuracy:             w.Metrics.Accuracy,
		CulturalSignificance: w.Metrics.CulturalSignificance,
	}

	fullWitness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, PublicInputs{}, fmt.Errorf("build witness: %w", err)
	}

	p, err := groth16.Prove(cs, pk, fullWitness)
	if err != nil {
		return nil, PublicInputs{}, fmt.Errorf("prove: %w", err)
	}

	var buf bytes.Buffer
	if _, err := p.WriteTo(&buf); err != nil {
		return nil, PublicInputs{}, fmt.Errorf("serialize proof: %w", err)
	}

	return buf.Bytes(), pub, nil
}
