package vcard

import (
	"crypto/sha256"
	"encoding/hex"
)

// ETag derives a strong content hash for an instance's normalized body.
func ETag(normalized []byte) string {
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:16])
}
