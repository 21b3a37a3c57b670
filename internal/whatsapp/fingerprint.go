package whatsapp

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns the lowercase hex SHA-256 of the raw delivery body.
// Two byte-identical deliveries share a fingerprint; a re-serialized payload
// with different whitespace does not.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// ShortFingerprint truncates a fingerprint for log lines.
func ShortFingerprint(fp string) string {
	if len(fp) <= 8 {
		return fp
	}
	return fp[:8]
}
