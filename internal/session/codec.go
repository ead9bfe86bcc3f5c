package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ieraasyl/ConnectService/internal/metrics"
	"github.com/rs/zerolog/log"
)

const issuer = "connect-service"

// claims is the JWT body. The session rides under "sess" next to the
// registered claims.
type claims struct {
	Session Session `json:"sess"`
	jwt.RegisteredClaims
}

// Codec signs and verifies session tokens with HS256.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithClock replaces time.Now for issuing and verifying tokens.
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) { c.now = now }
}

// NewCodec returns a codec that issues tokens valid for ttl.
func NewCodec(secret []byte, ttl time.Duration, opts ...CodecOption) *Codec {
	c := &Codec{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode signs s with the codec's default TTL.
func (c *Codec) Encode(s *Session) (string, error) {
	return c.EncodeWithTTL(s, c.ttl)
}

// EncodeWithTTL signs s with an expiration ttl from now.
func (c *Codec) EncodeWithTTL(s *Session, ttl time.Duration) (string, error) {
	if s == nil {
		return "", errors.New("nil session")
	}
	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Session: *s,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session: %w", err)
	}
	return signed, nil
}

// Decode verifies signature, issuer and expiry and returns the session.
// Any failure is logged and returns nil; a forged or corrupted cookie
// degrades to "no session".
func (c *Codec) Decode(token string) *Session {
	if token == "" {
		return nil
	}

	var cl claims
	parsed, err := jwt.ParseWithClaims(token, &cl, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid {
		reason := decodeFailureReason(err)
		metrics.RecordSessionDecodeFailure(reason)
		log.Debug().Err(err).Str("reason", reason).Msg("Rejected session cookie")
		return nil
	}

	s := cl.Session
	return &s
}

// Peek decodes the payload without verifying the signature or expiry.
// The result is suitable for rendering a name before a round-trip and
// MUST NOT gate any access decision.
func (c *Codec) Peek(token string) *Session {
	if token == "" {
		return nil
	}
	var cl claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &cl); err != nil {
		return nil
	}
	s := cl.Session
	return &s
}

func decodeFailureReason(err error) string {
	switch {
	case err == nil:
		return "invalid"
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unverifiable"
	default:
		return "invalid"
	}
}
