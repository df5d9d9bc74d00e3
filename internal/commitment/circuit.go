package commitment

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/poseidon2"
)

// Circuit is the attribution witness circuit. A valid proof shows that the
// prover knows (content, identity, timestamp, metrics) such that the public
// commitment and attribute values were honestly derived and every metric is
// within bounds, without revealing any of the private inputs.
//
// Public input order matters: gnark processes public variables in
// declaration order, and the gateway builds its witness the same way.
type Circuit struct {
	// Public inputs
	CommitmentHash     frontend.Variable `gnark:",public"`
	CulturalContext    frontend.Variable `gnark:",public"`
	QualityThreshold   frontend.Variable `gnark:",public"`
	ExpectedAttributes frontend.Variable `gnark:",public"`

	// Private witness
	Content              frontend.Variable
	Identity             frontend.Variable
	Timestamp            frontend.Variable
	Authenticity         frontend.Variable
	Completeness         frontend.Variable
	Accuracy             frontend.Variable
	CulturalSignificance frontend.Variable
}

// Define declares the circuit constraints. The in-circuit Poseidon2 matches
// the native hash in codec.go element for element.
func (c *Circuit) Define(api frontend.API) error {
	// The canonical zero content is not a valid witness.
	api.AssertIsDifferent(c.Content, 0)

	// commitment = Poseidon2(content, identity, context, timestamp)
	commitHasher, err := poseidon2.New(api)
	if err != nil {
		return err
	}

	commitHasher.Write(c.Content, c.Identity, c.CulturalContext, c.Timestamp)
	api.AssertIsEqual(commitHasher.Sum(), c.CommitmentHash)

	// Each metric is a hard range constraint: a single out-of-range value
	// makes the witness unsatisfiable.
	metrics := []frontend.Variable{
		c.Authenticity,
		c.Completeness,
		c.Accuracy,
		c.CulturalSignificance,
	}

	for _, m := range metrics {
		api.AssertIsLessOrEqual(m, MaxMetric)
	}

	// Aggregate score must reach the public threshold.
	score := api.Add(c.Authenticity, c.Completeness, api.Add(c.Accuracy, c.CulturalSignificance))
	api.AssertIsLessOrEqual(c.QualityThreshold, score)

	// expectedAttributes = Poseidon2(metrics), binding without revealing.
	attrHasher, err := poseidon2.New(api)
	if err != nil {
		return err
	}

	attrHasher.Write(metrics...)
	api.AssertIsEqual(attrHasher.Sum(), c.ExpectedAttributes)

	return nil
}
