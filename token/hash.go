package token

import (
	"crypto/sha256"
	"encoding/base64"
)

// Hash returns the URL-safe SHA-256 digest of a raw token string. The session
// registry stores digests, never raw token values.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
