package ical

import (
	"crypto/sha256"
	"encoding/hex"
)

// ETag derives a strong content hash for an instance's normalized body.
// Quoting is the HTTP layer's concern; this returns the bare token.
func ETag(normalized []byte) string {
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:16])
}
