// Package commitment binds private witness data (content, identity, context,
// quality metrics) to public commitments over the BN254 scalar field.
// All functions are pure: the same witness always yields the same digest,
// both here and inside the proving circuit.
package commitment

import (
	"encoding/hex"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"github.com/zeebo/blake3"
)

const (
	// MaxMetric is the inclusive upper bound for a single quality metric.
	MaxMetric = 100

	// MaxScore is the maximum aggregate quality score (four metrics at MaxMetric).
	MaxScore = 4 * MaxMetric
)

// Digest is the canonical big-endian encoding of a BN254 scalar.
type Digest [32]byte

// IsZero reports whether the digest is the canonical zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// String returns the hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText encodes the digest as hex, for JSON and log output.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a hex-encoded digest.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := DigestFromHex(string(text))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// DigestFromHex parses a 64-character hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest

	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}

	if len(b) != len(d) {
		return d, fmt.Errorf("invalid digest length: got %d, want %d", len(b), len(d))
	}

	copy(d[:], b)

	return d, nil
}

// HashToScalar maps arbitrary bytes into the scalar field via BLAKE3-256.
// This is the bridge between external content/identities and witness values.
func HashToScalar(data []byte) Digest {
	sum := blake3.Sum256(data)

	var e fr.Element
	e.SetBytes(sum[:])

	return Digest(e.Bytes())
}

// Commit computes the public commitment for a witness tuple:
// Poseidon2(content, identity, context, timestamp).
// The zero content value is not a valid witness.
func Commit(content, identity, context Digest, timestamp uint64) (Digest, error) {
	if content.IsZero() {
		return Digest{}, ErrEmptyContent
	}

	var ts fr.Element
	ts.SetUint64(timestamp)

	return hashElements(toElement(content), toElement(identity), toElement(context), ts), nil
}

// DeriveAttribution computes the attribution identifier:
// Poseidon2(identity, culturalProof, sourceValidation).
// Independent of Commit by arity, it recognizes a contributor without
// re-exposing content.
func DeriveAttribution(identity, culturalProof, sourceValidation Digest) (Digest, error) {
	if identity.IsZero() {
		return Digest{}, ErrEmptyIdentity
	}

	return hashElements(toElement(identity), toElement(culturalProof), toElement(sourceValidation)), nil
}

// QualityMetrics are the four bounded witness metrics, each in [0, MaxMetric].
type QualityMetrics struct {
	Authenticity         uint64 // Authenticity of the contributed knowledge
	Completeness         uint64 // Completeness of the contribution
	Accuracy             uint64 // Accuracy against known sources
	CulturalSignificance uint64 // CulturalSignificance within the stated context
}

// Validate checks that every metric is within [0, MaxMetric].
// A metric outside the bound invalidates the witness entirely.
func (m QualityMetrics) Validate() error {
	for _, v := range []uint64{m.Authenticity, m.Completeness, m.Accuracy, m.CulturalSignificance} {
		if v > MaxMetric {
			return fmt.Errorf("%w: %d > %d", ErrMetricOutOfRange, v, MaxMetric)
		}
	}

	return nil
}

// AggregateQuality returns the aggregate score, the sum of the four metrics.
func AggregateQuality(m QualityMetrics) (uint64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}

	return m.Authenticity + m.Completeness + m.Accuracy + m.CulturalSignificance, nil
}

// MetricsCommitment computes Poseidon2 over the four metrics. This is the
// public expectedAttributes value: it binds the metrics without revealing them.
func MetricsCommitment(m QualityMetrics) (Digest, error) {
	if err := m.Validate(); err != nil {
		return Digest{}, err
	}

	var a, c, ac, cs fr.Element
	a.SetUint64(m.Authenticity)
	c.SetUint64(m.Completeness)
	ac.SetUint64(m.Accuracy)
	cs.SetUint64(m.CulturalSignificance)

	return hashElements(a, c, ac, cs), nil
}

// hashElements runs the Poseidon2 Merkle-Damgard hash over field elements.
func hashElements(elems ...fr.Element) Digest {
	h := poseidon2.NewMerkleDamgardHasher()

	for _, e := range elems {
		b := e.Bytes()
		h.Write(b[:])
	}

	var d Digest
	copy(d[:], h.Sum(nil))

	return d
}

// toElement interprets a digest as a field element, reducing modulo r.
func toElement(d Digest) fr.Element {
	var e fr.Element
	e.SetBytes(d[:])
	return e
}
