package verifier

import (
	"encoding/binary"
	"fmt"
)

// Fixed-offset layout of a persisted verifier record.
const (
	offIdentity       = 0
	offQualifications = offIdentity + 32
	offBLSKey         = offQualifications + 32
	offActive         = offBLSKey + BLSPublicKeySize
	offCount          = offActive + 1
	offReputation     = offCount + 8
	offRegisteredAt   = offReputation + 1
	recordSize        = offRegisteredAt + 8
)

// encodeVerifier serializes a record into its fixed binary layout.
func encodeVerifier(v *Verifier) []byte {
	buf := make([]byte, recordSize)

	copy(buf[offIdentity:], v.Identity[:])
	copy(buf[offQualifications:], v.QualificationsHash[:])
	copy(buf[offBLSKey:], v.BLSPublicKey[:])

	if v.Active {
		buf[offActive] = 1
	}

	binary.BigEndian.PutUint64(buf[offCount:], v.VerificationCount)
	buf[offReputation] = v.ReputationScore
	binary.BigEndian.PutUint64(buf[offRegisteredAt:], uint64(v.RegisteredAt))

	return buf
}

// decodeVerifier parses a record from its fixed binary layout.
func decodeVerifier(buf []byte) (*Verifier, error) {
	if len(buf) != recordSize {
		return nil, fmt.Errorf("verifier record is %d bytes, want %d", len(buf), recordSize)
	}

	v := &Verifier{}

	copy(v.Identity[:], buf[offIdentity:offIdentity+32])
	copy(v.QualificationsHash[:], buf[offQualifications:offQualifications+32])
	copy(v.BLSPublicKey[:], buf[offBLSKey:offBLSKey+BLSPublicKeySize])

	v.Active = buf[offActive] == 1
	v.VerificationCount = binary.BigEndian.Uint64(buf[offCount:])
	v.ReputationScore = buf[offReputation]
	v.RegisteredAt = int64(binary.BigEndian.Uint64(buf[offRegisteredAt:]))

	return v, nil
}
