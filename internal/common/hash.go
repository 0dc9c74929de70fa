package common

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint hashes parts into a lowercase hex key. Parts are separated by a
// NUL byte so ("ab", "c") and ("a", "bc") never collide. Session tokens and
// idempotency inputs go through it so raw values never reach Redis or logs.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedactToken returns the first n hex characters of the token's fingerprint,
// enough to correlate one guest session across log lines and limiter keys.
func RedactToken(token string, n int) string {
	fp := Fingerprint(token)
	if n <= 0 || n > len(fp) {
		return fp
	}
	return fp[:n]
}
