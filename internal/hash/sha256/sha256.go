// Package sha256 provides the payload digest used by content versions.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Method is the hash method name recorded alongside each digest.
const Method = "sha256"

// Hasher produces hex SHA-256 digests.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
