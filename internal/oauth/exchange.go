package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/ieraasyl/ConnectService/internal/platformerr"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/pkg/pkce"
	"golang.org/x/oauth2"
)

// extraFields are token response fields copied into Credentials.Extra.
var extraFields = []string{"open_id", "user_id", "scope"}

// authorizeOAuth2 fills the state (and PKCE pair) of tx and returns the
// provider's authorize URL.
func authorizeOAuth2(p *Provider, tx *session.OAuthTransaction) (string, error) {
	state, err := pkce.GenerateState()
	if err != nil {
		return "", err
	}
	tx.State = state

	opts := append([]oauth2.AuthCodeOption{}, p.AuthParams...)
	if p.PKCE() {
		pair := pkce.GeneratePair()
		tx.CodeVerifier = pair.Verifier
		tx.CodeChallenge = pair.Challenge
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pair.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", pkce.Method),
		)
	}
	return p.OAuth2.AuthCodeURL(state, opts...), nil
}

// authorizeOAuth1 obtains a request token, stores the pair on tx and
// returns the provider's authorize URL.
func authorizeOAuth1(ctx context.Context, p *Provider, tx *session.OAuthTransaction) (string, error) {
	var token, secret string
	err := withContext(ctx, func() error {
		var err error
		token, secret, err = p.OAuth1.RequestToken()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to obtain request token: %w", err)
	}

	authURL, err := p.OAuth1.AuthorizationURL(token)
	if err != nil {
		return "", fmt.Errorf("failed to build authorization url: %w", err)
	}
	tx.OAuthToken = token
	tx.OAuthTokenSecret = secret
	return authURL.String(), nil
}

// exchangeOAuth2 trades the authorization code for tokens, sending the
// PKCE verifier when the transaction carries one.
func exchangeOAuth2(ctx context.Context, p *Provider, tx *session.OAuthTransaction, code string) (*Credentials, error) {
	opts := append([]oauth2.AuthCodeOption{}, p.ExchangeParams...)
	if tx.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(tx.CodeVerifier))
	}
	tok, err := p.OAuth2.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, retrieveError(err)
	}
	return credentialsFromToken(tok, p.Scopes()), nil
}

// exchangeOAuth1 trades the verified request token for an access token.
func exchangeOAuth1(ctx context.Context, p *Provider, tx *session.OAuthTransaction, verifier string) (*Credentials, error) {
	var token, secret string
	err := withContext(ctx, func() error {
		var err error
		token, secret, err = p.OAuth1.AccessToken(tx.OAuthToken, tx.OAuthTokenSecret, verifier)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Credentials{
		AccessToken: token,
		TokenSecret: secret,
		Extra:       map[string]string{},
	}, nil
}

// refreshOAuth2 runs the refresh_token grant.
func refreshOAuth2(ctx context.Context, p *Provider, refreshToken string) (*Credentials, error) {
	src := p.OAuth2.TokenSource(ctx, &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Unix(1, 0),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, retrieveError(err)
	}
	return credentialsFromToken(tok, p.Scopes()), nil
}

// authorizedClient returns a client that signs requests with creds.
func authorizedClient(ctx context.Context, p *Provider, creds *Credentials) *http.Client {
	if p.OAuth1a() {
		return p.OAuth1.Client(ctx, oauth1.NewToken(creds.AccessToken, creds.TokenSecret))
	}
	tok := &oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"}
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok))
}

// withProviderClient makes both oauth libraries use client for their own
// requests.
func withProviderClient(ctx context.Context, client *http.Client) context.Context {
	if client == nil {
		return ctx
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	return context.WithValue(ctx, oauth1.HTTPClient, client)
}

func credentialsFromToken(tok *oauth2.Token, requested []string) *Credentials {
	c := &Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Extra:        map[string]string{},
	}
	for _, field := range extraFields {
		switch v := tok.Extra(field).(type) {
		case string:
			c.Extra[field] = v
		case float64:
			c.Extra[field] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	if granted := scopeSet(c.Extra["scope"]); len(granted) > 0 {
		c.Scopes = granted
	} else {
		c.Scopes = append([]string(nil), requested...)
	}
	return c
}

// retrieveError exposes the token endpoint's response for classification.
func retrieveError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("token endpoint: %w", platformerr.FromResponse(re.Response, re.Body))
	}
	return err
}

// withContext runs a call that takes no context and abandons it when ctx
// is done. The call itself is bounded by the provider client's timeout.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
