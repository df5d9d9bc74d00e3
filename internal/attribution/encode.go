package attribution

import (
	"encoding/binary"
	"fmt"

	"github.com/Omnipath2025/equipath/internal/attestation"
)

// Fixed-offset layout of a persisted contribution record. The header is
// followed by nVotes fixed-size vote entries and a length-prefixed
// certificate.
const (
	offCommitment  = 0
	offContext     = offCommitment + 32
	offContributor = offContext + 32
	offAttribution = offContributor + 32
	offStatus      = offAttribution + 32
	offCreatedAt   = offStatus + 1
	offUpdatedAt   = offCreatedAt + 8
	offVoteCount   = offUpdatedAt + 8
	headerSize     = offVoteCount + 2

	voteSize = 32 + 1 + 8 + attestation.BLSSignatureSize
)

// encodeContribution serializes a record into its fixed binary layout.
func encodeContribution(c *Contribution) []byte {
	size := headerSize + len(c.Votes)*voteSize + 2 + len(c.Certificate)
	buf := make([]byte, size)

	copy(buf[offCommitment:], c.Commitment[:])
	copy(buf[offContext:], c.CulturalContext[:])
	copy(buf[offContributor:], c.Contributor[:])
	copy(buf[offAttribution:], c.AttributionProof[:])

	buf[offStatus] = byte(c.Status)
	binary.BigEndian.PutUint64(buf[offCreatedAt:], uint64(c.CreatedAt))
	binary.BigEndian.PutUint64(buf[offUpdatedAt:], uint64(c.UpdatedAt))
	binary.BigEndian.PutUint16(buf[offVoteCount:], uint16(len(c.Votes)))

	pos := headerSize

	for _, v := range c.Votes {
		copy(buf[pos:], v.Verifier[:])
		pos += 32

		if v.IsValid {
			buf[pos] = 1
		}
		pos++

		binary.BigEndian.PutUint64(buf[pos:], uint64(v.CastAt))
		pos += 8

		copy(buf[pos:], v.Signature[:])
		pos += attestation.BLSSignatureSize
	}

	binary.BigEndian.PutUint16(buf[pos:], uint16(len(c.Certificate)))
	pos += 2
	copy(buf[pos:], c.Certificate)

	return buf
}

// decodeContribution parses a record from its fixed binary layout.
func decodeContribution(buf []byte) (*Contribution, error) {
	if len(buf) < headerSize {
		return nil, fmt.Errorf("contribution record is %d bytes, want at least %d", len(buf), headerSize)
	}

	c := &Contribution{}

	copy(c.Commitment[:], buf[offCommitment:])
	copy(c.CulturalContext[:], buf[offContext:])
	copy(c.Contributor[:], buf[offContributor:])
	copy(c.AttributionProof[:], buf[offAttribution:])

	c.Status = Status(buf[offStatus])
	c.CreatedAt = int64(binary.BigEndian.Uint64(buf[offCreatedAt:]))
	c.UpdatedAt = int64(binary.BigEndian.Uint64(buf[offUpdatedAt:]))

	nVotes := int(binary.BigEndian.Uint16(buf[offVoteCount:]))
	pos := headerSize

	if len(buf) < pos+nVotes*voteSize+2 {
		return nil, fmt.Errorf("contribution record truncated at votes")
	}

	c.Votes = make([]Vote, nVotes)

	for i := range c.Votes {
		v := &c.Votes[i]

		copy(v.Verifier[:], buf[pos:])
		pos += 32

		v.IsValid = buf[pos] == 1
		pos++

		v.CastAt = int64(binary.BigEndian.Uint64(buf[pos:]))
		pos += 8

		copy(v.Signature[:], buf[pos:])
		pos += attestation.BLSSignatureSize
	}

	certLen := int(binary.BigEndian.Uint16(buf[pos:]))
	pos += 2

	if len(buf) < pos+certLen {
		return nil, fmt.Errorf("contribution record truncated at certificate")
	}

	if certLen > 0 {
		c.Certificate = make([]byte, certLen)
		copy(c.Certificate, buf[pos:pos+certLen])
	}

	return c, nil
}
