package proof

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/Omnipath2025/equipath/internal/commitment"
)

// Compile compiles the attribution circuit to an R1CS constraint system.
func Compile() (constraint.ConstraintSystem, error) {
	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &commitment.Circuit{})
	if err != nil {
		return nil, fmt.Errorf("compile circuit: %w", err)
	}

	return cs, nil
}

// Setup runs the Groth16 trusted setup for the compiled circuit.
// Production deployments are expected to import keys from a ceremony instead.
func Setup(cs constraint.ConstraintSystem) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup: %w", err)
	}

	return pk, vk, nil
}

// MarshalVerifyingKey serializes a verifying key.
func MarshalVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer

	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write verifying key: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalVerifyingKey deserializes a verifying key.
func UnmarshalVerifyingKey(data []byte) (groth16.VerifyingKey, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)

	if _, err := vk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}

	return vk, nil
}

// MarshalProvingKey serializes a proving key.
func MarshalProvingKey(pk groth16.ProvingKey) ([]byte, error) {
	var buf bytes.Buffer

	if _, err := pk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write proving key: %w", err)
	}

	return buf.Bytes(), nil
}

// UnmarshalProvingKey deserializes a proving key.
func UnmarshalProvingKey(data []byte) (groth16.ProvingKey, error) {
	pk := groth16.NewProvingKey(ecc.BN254)

	if _, err := pk.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("read proving key: %w", err)
	}

	return pk, nil
}
