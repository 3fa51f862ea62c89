package common

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sha256Hex returns the SHA-256 digest of the input encoded as lowercase hex.
func Sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// HMACSha256Hex signs the payload with the secret, lowercase hex encoded.
func HMACSha256Hex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACEqual compares a received signature against the expected one in
// constant time.
func HMACEqual(expected, received string) bool {
	return hmac.Equal([]byte(expected), []byte(received))
}
