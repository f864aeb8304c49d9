package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateToken returns a new high-entropy executor token: 32 random bytes
// encoded base64url without padding, 43 chars of [A-Za-z0-9_-].
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b), nil
}

// TokensEqual compares two credentials in constant time. Both sides are
// hashed first so a missing stored token (empty string) takes the same time
// as a mismatched one of any length. Empty credentials never match.
func TokensEqual(presented, stored string) bool {
	hp := sha256.Sum256([]byte(presented))
	hs := sha256.Sum256([]byte(stored))
	eq := subtle.ConstantTimeCompare(hp[:], hs[:]) == 1
	return eq && presented != "" && stored != ""
}
