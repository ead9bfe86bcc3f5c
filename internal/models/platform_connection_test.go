package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformConnectionJSON(t *testing.T) {
	expires := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	connectedAt := time.Date(2025, 1, 1, 9, 30, 0, 0, time.UTC)

	cases := []Account{
		&FacebookAccount{ID: "fb-1", Name: "Jane Doe", Email: "jane@example.com"},
		&InstagramAccount{ID: "ig-1", Username: "jane.ig", AccountType: "BUSINESS", MediaCount: 12},
		&TwitterAccount{ID: "tw-1", Username: "jane", MediaUpload: true},
		&TikTokAccount{OpenID: "tt-1", DisplayName: "Jane"},
		&AmazonAccount{UserID: "amzn1.account.X", Name: "Jane"},
	}

	for _, account := range cases {
		t.Run("round trips "+string(account.Platform()), func(t *testing.T) {
			conn := NewPlatformConnection("row-1", account, AccountTokens{
				AccessToken:  "at",
				RefreshToken: "rt",
				ExpiresAt:    &expires,
			}, connectedAt)

			data, err := json.Marshal(conn)
			require.NoError(t, err)

			var decoded PlatformConnection
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, *conn, decoded)
			assert.IsType(t, account, decoded.Account)
		})
	}

	t.Run("null expires_at survives as does-not-expire", func(t *testing.T) {
		conn := NewPlatformConnection("", &TwitterAccount{ID: "1", Username: "a"}, AccountTokens{AccessToken: "x"}, connectedAt)

		data, err := json.Marshal(conn)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"expires_at":null`)

		var decoded PlatformConnection
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Nil(t, decoded.AccountTokens.ExpiresAt)
		assert.False(t, decoded.AccountTokens.Expired(time.Now()))
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		var decoded PlatformConnection
		err := json.Unmarshal([]byte(`{"provider":"myspace","account":{}}`), &decoded)
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("rejects mismatched discriminant", func(t *testing.T) {
		conn := PlatformConnection{Provider: PlatformFacebook, Account: &TwitterAccount{ID: "1"}}
		_, err := json.Marshal(conn)
		assert.Error(t, err)
	})
}

func TestAccountTokensExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.False(t, AccountTokens{}.Expired(now))
	assert.True(t, AccountTokens{ExpiresAt: &past}.Expired(now))
	assert.True(t, AccountTokens{ExpiresAt: &now}.Expired(now))
	assert.False(t, AccountTokens{ExpiresAt: &future}.Expired(now))
}

func TestPlaceholderEmail(t *testing.T) {
	assert.Equal(t, "twitter_42@users.connect.local", PlaceholderEmail(PlatformTwitter, "42"))
}
