// Package sha256 provides the content hash recorded for exported bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements output.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString hashes s without the caller converting it first.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}
