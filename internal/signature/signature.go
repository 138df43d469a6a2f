// Package signature implements the optional shared-secret request signing:
// hex-encoded HMAC-SHA256 over the canonical request payload.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the hex-encoded HMAC-SHA256 of payload under secret.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the expected signature for payload.
// The comparison is constant-time.
func Verify(secret, payload []byte, provided string) bool {
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(provided))
}
