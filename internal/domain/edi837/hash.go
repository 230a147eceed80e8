package edi837

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashContent computes the SHA-256 digest of generated interchange content
// as 64 lowercase hex characters. The digest is stored next to the export
// file and doubles as a duplicate-submission check.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
