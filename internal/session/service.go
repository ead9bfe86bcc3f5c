package session

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Transaction errors returned by CompleteOAuthTransaction.
var (
	ErrTransactionNotFound = errors.New("no pending oauth transaction")
	ErrTransactionExpired  = errors.New("oauth transaction expired")
	ErrStateMismatch       = errors.New("oauth state mismatch")
	ErrTokenMismatch       = errors.New("oauth request token mismatch")
)

// cookieSizeWarning is close to the 4096 byte per-cookie browser limit.
const cookieSizeWarning = 3800

// Options configures a Service.
type Options struct {
	CookieName     string
	TTL            time.Duration
	RememberTTL    time.Duration
	TransactionTTL time.Duration
	IsProduction   bool
	Now            func() time.Time
}

// Service reads and writes the session cookie and owns every mutation of
// the session's OAuth transactions and platform connections.
type Service struct {
	codec *Codec
	opts  Options
}

// NewService creates a session service around codec.
//
// Example:
//
//	codec := session.NewCodec([]byte(cfg.Session.Secret), cfg.Session.TTL)
//	sessions := session.NewService(codec, session.Options{
//	    CookieName:     "session",
//	    TTL:            cfg.Session.TTL,
//	    RememberTTL:    cfg.Session.RememberTTL,
//	    TransactionTTL: cfg.Session.TransactionTTL,
//	    IsProduction:   cfg.Server.IsProduction(),
//	})
func NewService(codec *Codec, opts Options) *Service {
	if opts.CookieName == "" {
		opts.CookieName = "session"
	}
	if opts.TransactionTTL <= 0 {
		opts.TransactionTTL = 10 * time.Minute
	}
	if opts.RememberTTL <= 0 {
		opts.RememberTTL = opts.TTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{codec: codec, opts: opts}
}

// CookieName returns the name of the session cookie.
func (s *Service) CookieName() string {
	return s.opts.CookieName
}

// Load returns the verified session from the request cookie. A missing or
// invalid cookie yields an empty, unauthenticated session, never nil.
func (s *Service) Load(r *http.Request) *Session {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil {
		return &Session{}
	}
	if sess := s.codec.Decode(cookie.Value); sess != nil {
		return sess
	}
	return &Session{}
}

// Peek returns the unverified session payload for display-only use, or nil.
func (s *Service) Peek(r *http.Request) *Session {
	cookie, err := r.Cookie(s.opts.CookieName)
	if err != nil {
		return nil
	}
	return s.codec.Peek(cookie.Value)
}

// Save bumps the session version, re-signs it and sets the cookie. A
// remember-me session gets a persistent cookie; otherwise the cookie lives
// for the browser session while the token still expires after TTL.
func (s *Service) Save(w http.ResponseWriter, sess *Session) error {
	s.pruneTransactions(sess)
	sess.Version++
	sess.UpdatedAt = s.opts.Now().UTC()

	ttl := s.opts.TTL
	var maxAge time.Duration
	if sess.RememberMe {
		ttl = s.opts.RememberTTL
		maxAge = ttl
	}

	token, err := s.codec.EncodeWithTTL(sess, ttl)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if len(token) > cookieSizeWarning {
		log.Warn().
			Int("bytes", len(token)).
			Str("user_id", sess.UserID).
			Int("connections", len(sess.ConnectedPlatforms)).
			Msg("Session cookie is close to the browser size limit")
	}

	utils.SetAuthCookie(w, s.opts.CookieName, token, maxAge, s.opts.IsProduction)

	log.Debug().
		Str("user_id", sess.UserID).
		Int64("version", sess.Version).
		Msg("Session saved")
	return nil
}

// Clear expires the session cookie.
func (s *Service) Clear(w http.ResponseWriter) {
	utils.ClearAuthCookie(w, s.opts.CookieName, s.opts.IsProduction)
}

// BeginOAuthTransaction stores tx as the pending transaction for its
// provider, replacing any unconsumed one. InitiatedAt is stamped now.
func (s *Service) BeginOAuthTransaction(sess *Session, tx OAuthTransaction) {
	if sess.OAuthTransactions == nil {
		sess.OAuthTransactions = make(map[string]*OAuthTransaction)
	}
	if prior, ok := sess.OAuthTransactions[tx.Provider]; ok {
		log.Debug().
			Str("provider", tx.Provider).
			Time("prior_initiated_at", prior.InitiatedAt).
			Msg("Replacing unconsumed OAuth transaction")
	}
	tx.InitiatedAt = s.opts.Now().UTC()
	sess.OAuthTransactions[tx.Provider] = &tx
	s.pruneTransactions(sess)
}

// Presented carries the values a callback echoed back.
type Presented struct {
	State      string
	OAuthToken string
}

// CompleteOAuthTransaction consumes the pending transaction for provider
// and checks it against the callback values. The transaction is removed
// whether or not the check passes, so each one can be attempted once.
func (s *Service) CompleteOAuthTransaction(sess *Session, provider string, presented Presented) (*OAuthTransaction, error) {
	tx, ok := sess.OAuthTransactions[provider]
	if !ok || tx == nil {
		return nil, ErrTransactionNotFound
	}
	delete(sess.OAuthTransactions, provider)
	if len(sess.OAuthTransactions) == 0 {
		sess.OAuthTransactions = nil
	}

	if s.expired(tx) {
		return nil, ErrTransactionExpired
	}
	if tx.State != "" && !equal(tx.State, presented.State) {
		return nil, ErrStateMismatch
	}
	if tx.OAuthToken != "" && !equal(tx.OAuthToken, presented.OAuthToken) {
		return nil, ErrTokenMismatch
	}
	if tx.State == "" && tx.OAuthToken == "" {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// AbandonOAuthTransaction drops the pending transaction for provider when
// presented matches it and reports whether it did. A callback that cannot
// prove it belongs to the flow leaves the transaction in place, so a
// forged error link cannot cancel a flow in progress.
func (s *Service) AbandonOAuthTransaction(sess *Session, provider string, presented Presented) bool {
	tx, ok := sess.OAuthTransactions[provider]
	if !ok || tx == nil {
		return false
	}
	matches := (tx.State != "" && equal(tx.State, presented.State)) ||
		(tx.OAuthToken != "" && equal(tx.OAuthToken, presented.OAuthToken))
	if !matches {
		return false
	}
	delete(sess.OAuthTransactions, provider)
	if len(sess.OAuthTransactions) == 0 {
		sess.OAuthTransactions = nil
	}
	return true
}

// AddPlatformConnection stores the snapshot under its provider, replacing
// any previous one.
func (s *Service) AddPlatformConnection(sess *Session, conn *models.PlatformConnection) {
	if sess.ConnectedPlatforms == nil {
		sess.ConnectedPlatforms = make(map[models.Platform]*models.PlatformConnection)
	}
	sess.ConnectedPlatforms[conn.Provider] = conn
}

// RemovePlatformConnection deletes the snapshot for platform and reports
// whether one existed.
func (s *Service) RemovePlatformConnection(sess *Session, platform models.Platform) bool {
	if _, ok := sess.ConnectedPlatforms[platform]; !ok {
		return false
	}
	delete(sess.ConnectedPlatforms, platform)
	if len(sess.ConnectedPlatforms) == 0 {
		sess.ConnectedPlatforms = nil
	}
	return true
}

// SignIn establishes the application identity on the session.
func (s *Service) SignIn(sess *Session, user *models.User, tokens *UserTokens, remember bool) {
	sess.UserID = user.ID.String()
	sess.Plan = user.Plan
	sess.User = &UserProfile{
		Email:     user.Email,
		Username:  user.Username,
		AvatarURL: user.AvatarURL,
	}
	sess.UserTokens = tokens
	sess.RememberMe = remember
}

// SignOut drops identity, tokens, transactions and connection snapshots.
// The version counter survives so the next save still increases it.
func (s *Service) SignOut(sess *Session) {
	*sess = Session{Version: sess.Version}
}

func (s *Service) expired(tx *OAuthTransaction) bool {
	return s.opts.Now().Sub(tx.InitiatedAt) > s.opts.TransactionTTL
}

// pruneTransactions drops pending transactions that can no longer complete.
func (s *Service) pruneTransactions(sess *Session) {
	for key, tx := range sess.OAuthTransactions {
		if s.expired(tx) {
			delete(sess.OAuthTransactions, key)
		}
	}
	if len(sess.OAuthTransactions) == 0 {
		sess.OAuthTransactions = nil
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
