// Package sha256 derives stable, non-reversible tokens for client identifiers.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// tokenLength is the hex prefix kept for log fields.
const tokenLength = 16

// Hasher hashes values with an optional process salt.
type Hasher struct {
	salt []byte
}

// New returns a SHA-256 hasher. An empty salt yields plain SHA-256 digests.
func New(salt string) *Hasher {
	return &Hasher{salt: []byte(salt)}
}

// Hash returns the hex digest of salt||data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.New()
	sum.Write(h.salt)
	sum.Write(data)
	return hex.EncodeToString(sum.Sum(nil))
}

// Token shortens the digest of value for use as a log or audit field.
func (h *Hasher) Token(value string) string {
	return h.Hash([]byte(value))[:tokenLength]
}
