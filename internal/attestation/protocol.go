package attestation

import (
	"encoding/binary"
	"fmt"

	"github.com/Omnipath2025/equipath/internal/commitment"
)

// Fixed-offset layout of a vote request.
const (
	reqOffCommitment = 0
	reqOffContext    = reqOffCommitment + 32
	reqOffThreshold  = reqOffContext + 32
	reqOffAttributes = reqOffThreshold + 8
	reqOffProofLen   = reqOffAttributes + 32
	reqHeaderSize    = reqOffProofLen + 4
)

// Fixed-offset layout of a vote response.
const (
	respOffVerifier  = 0
	respOffFlags     = respOffVerifier + 32
	respOffSignature = respOffFlags + 1
	respSize         = respOffSignature + BLSSignatureSize

	flagIsValid = 1 << 0
	flagRefused = 1 << 1
)

// VoteRequest asks a verifier to attest one contribution. The proof bytes
// are the contributor's zero-knowledge proof; the other fields are the
// public inputs it must validate against.
type VoteRequest struct {
	Commitment         commitment.Digest // Commitment identifies the contribution
	CulturalContext    commitment.Digest // CulturalContext is the public context identifier
	QualityThreshold   uint64            // QualityThreshold is the minimum aggregate quality score
	ExpectedAttributes commitment.Digest // ExpectedAttributes commits to the quality metrics
	Proof              []byte            // Proof is the serialized zero-knowledge proof
}

// Encode serializes the request into its fixed binary layout.
func (r *VoteRequest) Encode() []byte {
	buf := make([]byte, reqHeaderSize+len(r.Proof))

	copy(buf[reqOffCommitment:], r.Commitment[:])
	copy(buf[reqOffContext:], r.CulturalContext[:])
	binary.BigEndian.PutUint64(buf[reqOffThreshold:], r.QualityThreshold)
	copy(buf[reqOffAttributes:], r.ExpectedAttributes[:])
	binary.BigEndian.PutUint32(buf[reqOffProofLen:], uint32(len(r.Proof)))
	copy(buf[reqHeaderSize:], r.Proof)

	return buf
}

// DecodeVoteRequest parses a request from its fixed binary layout.
func DecodeVoteRequest(buf []byte) (*VoteRequest, error) {
	if len(buf) < reqHeaderSize {
		return nil, fmt.Errorf("vote request is %d bytes, want at least %d", len(buf), reqHeaderSize)
	}

	r := &VoteRequest{}

	copy(r.Commitment[:], buf[reqOffCommitment:])
	copy(r.CulturalContext[:], buf[reqOffContext:])
	r.QualityThreshold = binary.BigEndian.Uint64(buf[reqOffThreshold:])
	copy(r.ExpectedAttributes[:], buf[reqOffAttributes:])

	proofLen := int(binary.BigEndian.Uint32(buf[reqOffProofLen:]))

	if len(buf) != reqHeaderSize+proofLen {
		return nil, fmt.Errorf("vote request truncated: %d proof bytes declared, %d present", proofLen, len(buf)-reqHeaderSize)
	}

	r.Proof = make([]byte, proofLen)
	copy(r.Proof, buf[reqHeaderSize:])

	return r, nil
}

// VoteResponse is a verifier's signed verdict on one contribution.
// A refused response carries no usable signature; it signals the verifier
// declined to attest (for example, it could not parse the proof).
type VoteResponse struct {
	Verifier  commitment.Digest       // Verifier is the attestor's identity
	IsValid   bool                    // IsValid is the attested verdict
	Refused   bool                    // Refused means the verifier declined to vote
	Signature [BLSSignatureSize]byte  // Signature is the BLS vote signature
}

// Encode serializes the response into its fixed binary layout.
func (r *VoteResponse) Encode() []byte {
	buf := make([]byte, respSize)

	copy(buf[respOffVerifier:], r.Verifier[:])

	if r.IsValid {
		buf[respOffFlags] |= flagIsValid
	}
	if r.Refused {
		buf[respOffFlags] |= flagRefused
	}

	copy(buf[respOffSignature:], r.Signature[:])

	return buf
}

// DecodeVoteResponse parses a response from its fixed binary layout.
func DecodeVoteResponse(buf []byte) (*VoteResponse, error) {
	if len(buf) != respSize {
		return nil, fmt.Errorf("vote response is %d bytes, want %d", len(buf), respSize)
	}

	r := &VoteResponse{}

	copy(r.Verifier[:], buf[respOffVerifier:])
	r.IsValid = buf[respOffFlags]&flagIsValid != 0
	r.Refused = buf[respOffFlags]&flagRefused != 0
	copy(r.Signature[:], buf[respOffSignature:])

	return r, nil
}
