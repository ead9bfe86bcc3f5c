package pkce

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base64URLUnpadded = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func TestGeneratePair(t *testing.T) {
	t.Run("challenge is base64url sha256 of verifier", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			pair := GeneratePair()

			sum := sha256.Sum256([]byte(pair.Verifier))
			assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), pair.Challenge)
		}
	})

	t.Run("verifier is 32 bytes unpadded base64url", func(t *testing.T) {
		pair := GeneratePair()

		assert.Len(t, pair.Verifier, 43)
		assert.Regexp(t, base64URLUnpadded, pair.Verifier)
		assert.Regexp(t, base64URLUnpadded, pair.Challenge)

		raw, err := base64.RawURLEncoding.DecodeString(pair.Verifier)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
	})

	t.Run("verifiers are unique", func(t *testing.T) {
		assert.NotEqual(t, GeneratePair().Verifier, GeneratePair().Verifier)
	})
}

func TestChallengeS256(t *testing.T) {
	// RFC 7636 appendix B
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		ChallengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
}

func TestGenerateState(t *testing.T) {
	t.Run("carries 256 bits of randomness", func(t *testing.T) {
		state, err := GenerateState()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(state)
		require.NoError(t, err)
		assert.Len(t, raw, StateLength)
	})

	t.Run("is unique per call", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			state, err := GenerateState()
			require.NoError(t, err)
			assert.False(t, seen[state], "duplicate state")
			seen[state] = true
		}
	})
}
