package attestation

import (
	"fmt"

	"github.com/Omnipath2025/equipath/internal/commitment"
	"github.com/Omnipath2025/equipath/internal/logger"
	"github.com/Omnipath2025/equipath/internal/proof"
)

// ProofVerifier decides whether a proof attests to a public-input vector.
type ProofVerifier interface {
	Verify(proofBytes []byte, pub proof.PublicInputs) error
}

// Handler serves vote requests on a verifier node: it checks the proof
// against the requested public inputs and returns a BLS-signed verdict.
// Proof verification happens here, off the registry's hot path.
type Handler struct {
	identity commitment.Digest // identity is this verifier's registered identity
	key      *BLSKeyPair       // key signs vote verdicts
	gateway  ProofVerifier     // gateway performs the pairing check
}

// NewHandler creates a vote request handler for one verifier.
func NewHandler(identity commitment.Digest, key *BLSKeyPair, gateway ProofVerifier) *Handler {
	return &Handler{
		identity: identity,
		key:      key,
		gateway:  gateway,
	}
}

// Identity returns the verifier identity this handler signs for.
func (h *Handler) Identity() commitment.Digest {
	return h.identity
}

// Handle processes one encoded vote request and returns the encoded
// response. A malformed request is an error; a failed proof check is a
// signed no-vote, not an error.
func (h *Handler) Handle(data []byte) ([]byte, error) {
	req, err := DecodeVoteRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode vote request: %w", err)
	}

	verdict := h.evaluate(req)

	resp := &VoteResponse{
		Verifier:  h.identity,
		IsValid:   verdict,
		Signature: h.key.SignVote(req.Commitment, verdict),
	}

	logger.Debug("vote cast", "commitment", req.Commitment, "isValid", verdict)

	return resp.Encode(), nil
}

// evaluate runs the proof check and maps the outcome to a verdict.
func (h *Handler) evaluate(req *VoteRequest) bool {
	err := h.gateway.Verify(req.Proof, proof.PublicInputs{
		CommitmentHash:     req.Commitment,
		CulturalContext:    req.CulturalContext,
		QualityThreshold:   req.QualityThreshold,
		ExpectedAttributes: req.ExpectedAttributes,
	})
	if err != nil {
		logger.Debug("proof rejected", "commitment", req.Commitment, "error", err)
		return false
	}

	return true
}
