package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the HMAC of the raw request body.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256"

// Sign returns the header value the platform would send for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + "=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header ("sha256=<hex>") is the HMAC-SHA256
// of body under secret. Any malformed input yields false.
func VerifySignature(body []byte, header, secret string) bool {
	if header == "" || secret == "" {
		return false
	}
	algo, digest, ok := strings.Cut(strings.TrimSpace(header), "=")
	if !ok || algo != signaturePrefix || strings.Contains(digest, "=") {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil || len(got) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
