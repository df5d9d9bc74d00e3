package api

import (
	"encoding/hex"
	"fmt"

	"github.com/Omnipath2025/equipath/internal/attestation"
	"github.com/Omnipath2025/equipath/internal/attribution"
	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/verifier"
)

// voteView is the JSON shape of one vote.
type voteView struct {
	Verifier  string `json:"verifier"`
	IsValid   bool   `json:"isValid"`
	Signature string `json:"signature"`
	CastAt    int64  `json:"castAt"`
}

// contributionView maps a contribution record to its JSON shape.
func contributionView(c *attribution.Contribution) map[string]any {
	votes := make([]voteView, len(c.Votes))

	for i, v := range c.Votes {
		votes[i] = voteView{
			Verifier:  v.Verifier.String(),
			IsValid:   v.IsValid,
			Signature: hex.EncodeToString(v.Signature[:]),
			CastAt:    v.CastAt,
		}
	}

	view := map[string]any{
		"commitment":       c.Commitment.String(),
		"culturalContext":  c.CulturalContext.String(),
		"contributor":      c.Contributor.String(),
		"attributionProof": c.AttributionProof.String(),
		"status":           c.Status.String(),
		"votes":            votes,
		"createdAt":        c.CreatedAt,
		"updatedAt":        c.UpdatedAt,
	}

	if c.Certificate != nil {
		view["certificate"] = hex.EncodeToString(c.Certificate)
	}

	return view
}

// verifierView maps a verifier record to its JSON shape.
func verifierView(v verifier.Verifier) map[string]any {
	return map[string]any{
		"identity":           v.Identity.String(),
		"qualificationsHash": v.QualificationsHash.String(),
		"blsPublicKey":       hex.EncodeToString(v.BLSPublicKey[:]),
		"active":             v.Active,
		"verificationCount":  v.VerificationCount,
		"reputationScore":    v.ReputationScore,
		"registeredAt":       v.RegisteredAt,
	}
}

// parseDigest parses a 64-character hex digest.
func parseDigest(s string) (commitment.Digest, error) {
	return commitment.DigestFromHex(s)
}

// parseSignature parses a hex-encoded BLS signature.
func parseSignature(s string) ([attestation.BLSSignatureSize]byte, error) {
	var sig [attestation.BLSSignatureSize]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return sig, err
	}

	if len(raw) != attestation.BLSSignatureSize {
		return sig, fmt.Errorf("signature is %d bytes, want %d", len(raw), attestation.BLSSignatureSize)
	}

	copy(sig[:], raw)

	return sig, nil
}

// parseBLSKey parses a hex-encoded compressed BLS public key.
func parseBLSKey(s string) ([verifier.BLSPublicKeySize]byte, error) {
	var key [verifier.BLSPublicKeySize]byte

	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}

	if len(raw) != verifier.BLSPublicKeySize {
		return key, fmt.Errorf("BLS public key is %d bytes, want %d", len(raw), verifier.BLSPublicKeySize)
	}

	copy(key[:], raw)

	return key, nil
}
