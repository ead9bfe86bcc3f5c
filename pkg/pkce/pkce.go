// Package pkce generates the per-transaction secrets of an OAuth
// authorization request: PKCE code verifier/challenge pairs (RFC 7636, S256)
// and CSRF state tokens.
package pkce

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// StateLength is the number of random bytes in a state token (256 bits).
const StateLength = 32

// Method is the only challenge method this package produces.
const Method = "S256"

// GenerateVerifier returns 32 random bytes encoded as unpadded base64url,
// a 43 character string.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// ChallengeS256 returns base64url(sha256(verifier)) without padding.
func ChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// Pair holds a generated verifier and its challenge.
type Pair struct {
	Verifier  string
	Challenge string
}

// GeneratePair generates a verifier and its S256 challenge.
func GeneratePair() Pair {
	verifier := GenerateVerifier()
	return Pair{
		Verifier:  verifier,
		Challenge: ChallengeS256(verifier),
	}
}

// GenerateState returns an opaque single-use CSRF token of StateLength
// random bytes, base64url encoded without padding.
func GenerateState() (string, error) {
	b := make([]byte, StateLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
