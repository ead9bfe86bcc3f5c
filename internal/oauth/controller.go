package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/ieraasyl/ConnectService/internal/metrics"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of the flow state machine.
type State string

const (
	StateIdle            State = "IDLE"
	StateAuthorizing     State = "AUTHORIZING"
	StateCallbackPending State = "CALLBACK_PENDING"
	StateTokenExchanged  State = "TOKEN_EXCHANGED"
	StateProfileFetched  State = "PROFILE_FETCHED"
	StatePersisted       State = "PERSISTED"
	StateSessionUpdated  State = "SESSION_UPDATED"
	StateFailed          State = "FAILED"
)

const tracerName = "github.com/ieraasyl/ConnectService/internal/oauth"

// Options configures a Controller.
type Options struct {
	Providers *Registry
	Sessions  *session.Service
	Store     ConnectionStore
	// Tokens issues application tokens when a flow establishes identity.
	// Nil leaves UserTokens unset.
	Tokens TokenIssuer
	// HTTPClient is used for every provider call. It should carry a timeout.
	HTTPClient *http.Client
	// DefaultReturnTo is where completed flows land without a returnTo.
	DefaultReturnTo string
	Now             func() time.Time
}

// Controller runs OAuth flows for every registered provider.
type Controller struct {
	providers  *Registry
	sessions   *session.Service
	store      ConnectionStore
	tokens     TokenIssuer
	httpClient *http.Client
	returnTo   string
	now        func() time.Time
	tracer     trace.Tracer
}

// NewController creates a flow controller.
func NewController(opts Options) *Controller {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.DefaultReturnTo == "" {
		opts.DefaultReturnTo = "/profile?tab=connections"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		providers:  opts.Providers,
		sessions:   opts.Sessions,
		store:      opts.Store,
		tokens:     opts.Tokens,
		httpClient: opts.HTTPClient,
		returnTo:   opts.DefaultReturnTo,
		now:        opts.Now,
		tracer:     otel.Tracer(tracerName),
	}
}

// Providers returns the controller's provider registry.
func (c *Controller) Providers() *Registry {
	return c.providers
}

// DefaultReturnTo is the landing path used when a flow has none.
func (c *Controller) DefaultReturnTo() string {
	return c.returnTo
}

// BeginRequest starts a flow.
type BeginRequest struct {
	Provider   string
	Intent     session.Intent
	ReturnTo   string
	RememberMe bool
}

// BeginResult tells the caller where to send the browser. Redirect is true
// when the caller should answer with a 302 instead of returning AuthURL in
// a JSON body.
type BeginResult struct {
	AuthURL  string
	Redirect bool
}

// Begin moves a flow from IDLE to AUTHORIZING: it records a transaction on
// sess and returns the provider's authorize URL. The caller must save the
// session. Connect flows require an authenticated session.
func (c *Controller) Begin(ctx context.Context, sess *session.Session, req BeginRequest) (*BeginResult, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.begin", trace.WithAttributes(
		attribute.String("oauth.provider", req.Provider),
		attribute.String("oauth.intent", string(req.Intent)),
	))
	defer span.End()

	f := c.newFlow(ctx, req.Provider, req.Intent)
	p, ok := c.providers.Get(req.Provider)
	if !ok {
		return nil, f.fail(span, ReasonUnknownProvider, ErrUnknownProvider)
	}
	if req.Intent == session.IntentSignIn && !p.SignIn {
		return nil, f.fail(span, ReasonUnknownProvider, fmt.Errorf("%s does not support sign-in", p.Key))
	}
	if req.Intent != session.IntentSignIn && !sess.Authenticated() {
		return nil, f.fail(span, ReasonNotAuthenticated, nil)
	}

	returnTo := req.ReturnTo
	if returnTo == "" {
		returnTo = c.returnTo
	}
	tx := session.OAuthTransaction{
		Provider:   p.Key,
		ReturnTo:   returnTo,
		Intent:     req.Intent,
		Linking:    c.linkingMode(ctx, sess, p),
		RememberMe: req.RememberMe,
	}

	var (
		authURL string
		err     error
	)
	start := c.now()
	if p.OAuth1a() {
		authURL, err = authorizeOAuth1(withProviderClient(ctx, c.httpClient), p, &tx)
	} else {
		authURL, err = authorizeOAuth2(p, &tx)
	}
	metrics.ObserveOAuthStep(p.Key, "authorize", c.now().Sub(start))
	if err != nil {
		return nil, f.fail(span, ReasonOAuthFailed, err)
	}

	c.sessions.BeginOAuthTransaction(sess, tx)
	f.advance(StateAuthorizing)
	f.logger.Info().
		Str("linking", string(tx.Linking.Kind)).
		Msg("OAuth flow started")

	return &BeginResult{
		AuthURL:  authURL,
		Redirect: p.OAuth1a() || req.Intent == session.IntentSignIn,
	}, nil
}

// linkingMode selects AugmentExisting when p augments a provider whose
// connection is already active for the signed-in user.
func (c *Controller) linkingMode(ctx context.Context, sess *session.Session, p *Provider) session.LinkingMode {
	if p.Augments == "" || !sess.Authenticated() {
		return session.Standalone()
	}
	userID, err := uuid.Parse(sess.UserID)
	if err != nil {
		return session.Standalone()
	}
	existing, err := c.store.GetActiveConnection(ctx, userID, p.Platform)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Ctx(ctx).Warn().Err(err).Str("provider", p.Key).Msg("Failed to look up connection to augment")
		}
		return session.Standalone()
	}
	return session.AugmentExisting(existing.ID.String())
}

// CallbackParams are the query parameters a provider redirects back with.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
	OAuthToken       string
	OAuthVerifier    string
	Denied           string
}

// CompleteResult describes a flow that reached SESSION_UPDATED.
type CompleteResult struct {
	Provider   string
	Intent     session.Intent
	ReturnTo   string
	Connection *models.Connection
	User       *models.User
	// NewUser is true when the flow created a placeholder account.
	NewUser bool
}

// Commit persists the mutated session, typically by setting the cookie.
type Commit func(sess *session.Session) error

// Complete runs the callback half of a flow from CALLBACK_PENDING to
// SESSION_UPDATED. The pending transaction is consumed on every path, so a
// callback can succeed at most once. commit is called once persistence has
// succeeded; if it fails the connection row stays and the inconsistency is
// logged.
func (c *Controller) Complete(ctx context.Context, sess *session.Session, providerKey string, params CallbackParams, commit Commit) (result *CompleteResult, err error) {
	ctx, span := c.tracer.Start(ctx, "oauth.callback", trace.WithAttributes(
		attribute.String("oauth.provider", providerKey),
	))
	defer span.End()

	intent := session.IntentConnect
	if tx := sess.OAuthTransactions[providerKey]; tx != nil && tx.Intent != "" {
		intent = tx.Intent
	}
	f := c.newFlow(ctx, providerKey, intent)
	f.advance(StateCallbackPending)

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = f.fail(span, ReasonOAuthFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	p, ok := c.providers.Get(providerKey)
	if !ok {
		return nil, f.fail(span, ReasonUnknownProvider, ErrUnknownProvider)
	}

	presented := session.Presented{State: params.State, OAuthToken: params.OAuthToken}
	if params.Error != "" || params.Denied != "" {
		if presented.OAuthToken == "" {
			// OAuth1.0a denials echo the request token as the denied value.
			presented.OAuthToken = params.Denied
		}
		c.abandonTransaction(ctx, sess, p.Key, presented)
		desc := params.ErrorDescription
		if desc == "" {
			desc = params.Error
		}
		return nil, f.fail(span, ReasonUserDenied, errors.New(desc))
	}

	secret := params.Code
	if p.OAuth1a() {
		secret = params.OAuthVerifier
		if params.OAuthToken == "" || secret == "" {
			c.abandonTransaction(ctx, sess, p.Key, presented)
			return nil, f.fail(span, ReasonMissingParameters, nil)
		}
	} else if params.State == "" || secret == "" {
		c.abandonTransaction(ctx, sess, p.Key, presented)
		return nil, f.fail(span, ReasonMissingParameters, nil)
	}

	tx, err := c.sessions.CompleteOAuthTransaction(sess, p.Key, presented)
	if err != nil {
		if errors.Is(err, session.ErrTokenMismatch) {
			return nil, f.fail(span, ReasonTokenMismatch, err)
		}
		return nil, f.fail(span, ReasonInvalidState, err)
	}
	f.intent = tx.Intent

	pctx := withProviderClient(ctx, c.httpClient)
	creds, err := c.exchange(pctx, p, tx, secret)
	if err != nil {
		return nil, f.fail(span, ReasonOAuthFailed, err)
	}
	f.advance(StateTokenExchanged)

	profile, err := c.fetchProfile(pctx, p, creds)
	if err != nil {
		return nil, f.fail(span, ReasonUserInfoFailed, err)
	}
	f.advance(StateProfileFetched)
	span.SetAttributes(attribute.String("oauth.provider_id", profile.ProviderID))

	user, created, err := c.resolveUser(ctx, sess, p, profile)
	if err != nil {
		return nil, f.fail(span, ReasonPersistFailed, err)
	}
	conn, err := c.persist(ctx, p, tx, user, profile, creds)
	if err != nil {
		if errors.Is(err, errAccountMismatch) {
			return nil, f.fail(span, ReasonAccountMismatch, err)
		}
		return nil, f.fail(span, ReasonPersistFailed, err)
	}
	f.advance(StatePersisted)

	if err := c.updateSession(ctx, sess, tx, user, conn, profile); err != nil {
		return nil, f.fail(span, ReasonSessionUpdateFailed, err)
	}
	if commit != nil {
		if err := commit(sess); err != nil {
			f.logger.Error().
				Err(err).
				Str("connection_id", conn.ID.String()).
				Msg("Connection persisted but session update failed")
			return nil, f.fail(span, ReasonSessionUpdateFailed, err)
		}
	}
	f.advance(StateSessionUpdated)
	f.succeed()

	return &CompleteResult{
		Provider:   p.Key,
		Intent:     tx.Intent,
		ReturnTo:   tx.ReturnTo,
		Connection: conn,
		User:       user,
		NewUser:    created,
	}, nil
}

// abandonTransaction ends the pending flow for provider after a failed
// callback, but only when the callback carried that flow's state or token.
func (c *Controller) abandonTransaction(ctx context.Context, sess *session.Session, provider string, presented session.Presented) {
	if _, pending := sess.OAuthTransactions[provider]; !pending {
		return
	}
	if !c.sessions.AbandonOAuthTransaction(sess, provider, presented) {
		log.Ctx(ctx).Warn().Str("provider", provider).Msg("Ignoring callback that does not match the pending transaction")
	}
}

func (c *Controller) exchange(ctx context.Context, p *Provider, tx *session.OAuthTransaction, secret string) (*Credentials, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.exchange")
	defer span.End()
	start := c.now()
	defer func() { metrics.ObserveOAuthStep(p.Key, "exchange", c.now().Sub(start)) }()

	if p.OAuth1a() {
		return exchangeOAuth1(ctx, p, tx, secret)
	}
	creds, err := exchangeOAuth2(ctx, p, tx, secret)
	if err != nil {
		return nil, err
	}
	if p.Upgrade != nil {
		upgraded, err := p.Upgrade.Upgrade(ctx, c.httpClient, creds)
		if err != nil {
			// The short-lived token still works; keep it.
			log.Ctx(ctx).Warn().Err(err).Str("provider", p.Key).Msg("Failed to upgrade to long-lived token")
		} else {
			creds = upgraded
		}
	}
	return creds, nil
}

func (c *Controller) fetchProfile(ctx context.Context, p *Provider, creds *Credentials) (*Profile, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.profile")
	defer span.End()
	start := c.now()
	defer func() { metrics.ObserveOAuthStep(p.Key, "profile", c.now().Sub(start)) }()

	return p.Profile.FetchProfile(ctx, authorizedClient(ctx, p, creds), creds)
}

// resolveUser picks the application user a connection belongs to: the
// session's user, else the owner of an existing connection to the provider
// account, else a new placeholder user.
func (c *Controller) resolveUser(ctx context.Context, sess *session.Session, p *Provider, profile *Profile) (*models.User, bool, error) {
	if sess.UserID != "" {
		id, err := uuid.Parse(sess.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("invalid session user id: %w", err)
		}
		user, err := c.store.GetUser(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load session user: %w", err)
		}
		owner, err := c.store.FindUserByProvider(ctx, p.Platform, profile.ProviderID)
		if err == nil && owner.ID != user.ID {
			log.Ctx(ctx).Warn().
				Str("provider", p.Key).
				Str("provider_id", profile.ProviderID).
				Str("user_id", user.ID.String()).
				Str("other_user_id", owner.ID.String()).
				Msg("Provider account is already linked to another user")
		}
		return user, false, nil
	}

	owner, err := c.store.FindUserByProvider(ctx, p.Platform, profile.ProviderID)
	if err == nil {
		return owner, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up provider account: %w", err)
	}

	// New users are keyed by a placeholder, never by the provider's email:
	// two providers reporting one address must not look like one person.
	// The reported address stays in the connection's profile snapshot.
	user, err := c.store.CreateUser(ctx, &models.User{
		Email:     models.PlaceholderEmail(p.Platform, profile.ProviderID),
		Username:  profile.Username,
		AvatarURL: profile.AvatarURL,
		Plan:      models.PlanFree,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create user: %w", err)
	}
	log.Ctx(ctx).Info().
		Str("provider", p.Key).
		Str("user_id", user.ID.String()).
		Msg("Created user from provider account")
	return user, true, nil
}

var errAccountMismatch = errors.New("authorized account does not match the connection being augmented")

// persist writes the connection. Standalone flows upsert a full row;
// augmenting flows patch only the OAuth1.0a token pair onto the existing
// row, which must belong to the same user and provider account.
func (c *Controller) persist(ctx context.Context, p *Provider, tx *session.OAuthTransaction, user *models.User, profile *Profile, creds *Credentials) (*models.Connection, error) {
	ctx, span := c.tracer.Start(ctx, "oauth.persist")
	defer span.End()

	if tx.Linking.Augments() {
		id, err := uuid.Parse(tx.Linking.ExistingConnectionID)
		if err != nil {
			return nil, fmt.Errorf("invalid connection id: %w", err)
		}
		existing, err := c.store.GetConnection(ctx, id)
		if errors.Is(err, models.ErrNotFound) {
			// The row went away after the flow started; link standalone.
			return c.upsert(ctx, p, user, profile, creds)
		}
		if err != nil {
			return nil, err
		}
		if existing.UserID != user.ID || existing.Provider != p.Platform || existing.ProviderID != profile.ProviderID {
			return nil, fmt.Errorf("%w: connection %s is %s", errAccountMismatch, existing.ID, existing.ProviderID)
		}
		return c.store.PatchConnectionSecret(ctx, id, creds.AccessToken, creds.TokenSecret)
	}
	return c.upsert(ctx, p, user, profile, creds)
}

func (c *Controller) upsert(ctx context.Context, p *Provider, user *models.User, profile *Profile, creds *Credentials) (*models.Connection, error) {
	conn := &models.Connection{
		UserID:            user.ID,
		Provider:          p.Platform,
		ProviderID:        profile.ProviderID,
		Username:          profile.Username,
		AccessToken:       creds.AccessToken,
		RefreshToken:      creds.RefreshToken,
		AccessTokenSecret: creds.TokenSecret,
		TokenExpiresAt:    expiryPtr(creds.Expiry),
		Scopes:            creds.Scopes,
		Capabilities:      p.capabilities(creds.Scopes),
		Profile:           profile.Raw,
		AnalyticsSummary:  marshalAnalytics(profile.Analytics),
		IsActive:          true,
	}
	if p.OAuth1a() {
		conn.OAuth1Token = creds.AccessToken
	}
	return c.store.UpsertConnection(ctx, conn)
}

// updateSession merges the persisted connection into the session and,
// when the flow established identity, signs the user in.
func (c *Controller) updateSession(ctx context.Context, sess *session.Session, tx *session.OAuthTransaction, user *models.User, conn *models.Connection, profile *Profile) error {
	if sess.UserID != user.ID.String() || tx.Intent == session.IntentSignIn {
		var tokens *session.UserTokens
		if c.tokens != nil {
			t, err := c.tokens.IssueTokens(ctx, user)
			if err != nil {
				return fmt.Errorf("failed to issue tokens: %w", err)
			}
			tokens = t
		}
		c.sessions.SignIn(sess, user, tokens, tx.RememberMe)
		if err := c.store.TouchLogin(ctx, user.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("user_id", user.ID.String()).Msg("Failed to record login")
		}
	}

	account := profile.Account
	tokens := models.AccountTokens{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		ExpiresAt:    conn.TokenExpiresAt,
	}
	if tx.Linking.Augments() {
		// Keep the OAuth2 snapshot and only flag the new capability.
		if prev := sess.Connection(conn.Provider); prev != nil {
			if tw, ok := prev.Account.(*models.TwitterAccount); ok {
				merged := *tw
				merged.MediaUpload = true
				account = &merged
			}
			tokens = prev.AccountTokens
		}
	}
	c.sessions.AddPlatformConnection(sess, models.NewPlatformConnection(conn.ID.String(), account, tokens, c.now().UTC()))
	return nil
}

// Disconnect removes the user's connection to platform. The provider's
// revocation endpoint is called best effort. Disconnecting a platform that
// is not connected succeeds.
func (c *Controller) Disconnect(ctx context.Context, sess *session.Session, platform models.Platform) error {
	ctx, span := c.tracer.Start(ctx, "oauth.disconnect", trace.WithAttributes(
		attribute.String("oauth.platform", string(platform)),
	))
	defer span.End()

	logger := log.Ctx(ctx).With().Str("platform", string(platform)).Logger()
	if !sess.Authenticated() {
		return &Failure{Reason: ReasonNotAuthenticated, Provider: string(platform)}
	}
	userID, err := uuid.Parse(sess.UserID)
	if err != nil {
		return &Failure{Reason: ReasonNotAuthenticated, Provider: string(platform), Err: err}
	}

	// A user may have linked several accounts of one platform; all go.
	conns, err := c.store.ActiveConnections(ctx, userID, platform)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load connections: %w", err)
	}
	if len(conns) == 0 {
		logger.Debug().Msg("Nothing to disconnect")
	}
	for _, conn := range conns {
		c.revoke(ctx, platform, conn)
		if err := c.store.DeleteConnection(ctx, conn.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			span.RecordError(err)
			return fmt.Errorf("failed to delete connection: %w", err)
		}
		logger.Info().Str("connection_id", conn.ID.String()).Msg("Platform disconnected")
	}

	c.sessions.RemovePlatformConnection(sess, platform)
	return nil
}

func (c *Controller) revoke(ctx context.Context, platform models.Platform, conn *models.Connection) {
	p, ok := c.providers.Primary(platform)
	if !ok || p.Revoker == nil || conn.AccessToken == "" {
		return
	}
	ctx = withProviderClient(ctx, c.httpClient)
	err := doPlatform(ctx, platform, func(ctx context.Context) error {
		return p.Revoker.Revoke(ctx, c.httpClient, conn)
	})
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("platform", string(platform)).Msg("Token revocation failed")
	}
}

// flow tracks one run through the state machine for logging and metrics.
type flow struct {
	provider string
	intent   session.Intent
	state    State
	started  time.Time
	now      func() time.Time
	logger   zerolog.Logger
}

func (c *Controller) newFlow(ctx context.Context, provider string, intent session.Intent) *flow {
	return &flow{
		provider: provider,
		intent:   intent,
		state:    StateIdle,
		started:  c.now(),
		now:      c.now,
		logger:   log.Ctx(ctx).With().Str("provider", provider).Logger(),
	}
}

func (f *flow) advance(to State) {
	f.logger.Debug().
		Str("from", string(f.state)).
		Str("to", string(to)).
		Msg("OAuth flow transition")
	f.state = to
}

func (f *flow) succeed() {
	metrics.RecordOAuthFlow(f.provider, string(f.intent), "success")
	f.logger.Info().
		Str("intent", string(f.intent)).
		Dur("duration", f.now().Sub(f.started)).
		Msg("OAuth flow completed")
}

func (f *flow) fail(span trace.Span, reason Reason, err error) *Failure {
	from := f.state
	f.state = StateFailed
	metrics.RecordOAuthFlow(f.provider, string(f.intent), string(reason))

	event := f.logger.Warn()
	switch reason {
	case ReasonPersistFailed, ReasonSessionUpdateFailed:
		event = f.logger.Error()
	case ReasonUserDenied, ReasonNotAuthenticated:
		event = f.logger.Info()
	}
	event.Err(err).
		Str("from", string(from)).
		Str("reason", string(reason)).
		Str("kind", reason.Kind()).
		Msg("OAuth flow failed")

	if err != nil {
		span.RecordError(err)
	}
	span.SetStatus(codes.Error, string(reason))
	return &Failure{Reason: reason, Provider: f.provider, Intent: f.intent, Err: err}
}
