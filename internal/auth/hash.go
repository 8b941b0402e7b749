package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeyPrefix is the expected prefix of gateway-issued virtual keys.
const KeyPrefix = "sk-"

// HashToken returns the hex SHA-256 digest of a plaintext token. Keys are
// stored and looked up by this hash only; the plaintext never touches the
// database or the logs.
func HashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}

// LooksLikeJWT reports whether the bearer credential is structurally a JWT
// (three dot-separated segments) rather than a gateway virtual key.
func LooksLikeJWT(token string) bool {
	return !strings.HasPrefix(token, KeyPrefix) && strings.Count(token, ".") == 2
}
