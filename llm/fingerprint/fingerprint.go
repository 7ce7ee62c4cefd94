// Package fingerprint derives deterministic digests of evaluation input for
// cache and idempotency keys. Any byte difference in the input, whitespace
// included, yields a different fingerprint.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex sha256 digest of the exact text.
func Sum(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
