// Package sha256 names archived content by its digest.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher produces lowercase hex digests. The zero value is ready to use.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests data. Identical content across sessions maps to the same
// name, so archive writes are idempotent.
func (*Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
