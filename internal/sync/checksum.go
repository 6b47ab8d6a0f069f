package sync

import (
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumCalculator computes content hashes over canonical payload
// encodings. Hashes are used for idempotent dedup and corruption detection.
type ChecksumCalculator struct{}

// NewChecksumCalculator creates a new checksum calculator
func NewChecksumCalculator() *ChecksumCalculator {
	return &ChecksumCalculator{}
}

// ComputeChecksum returns the SHA256 hex digest of the payload's canonical
// encoding. Identical payloads always hash identically regardless of field
// iteration order.
func (cc *ChecksumCalculator) ComputeChecksum(p Payload) string {
	sum := sha256.Sum256(p.Canonical())
	return hex.EncodeToString(sum[:])
}
