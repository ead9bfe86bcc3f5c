package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
)

// Revoker invalidates a connection's tokens at the provider. Revocation is
// best effort; providers without an endpoint have no Revoker.
type Revoker interface {
	Revoke(ctx context.Context, client *http.Client, conn *models.Connection) error
}

// GraphRevoker deletes the app's permissions for the user.
type GraphRevoker struct {
	BaseURL string
}

func (g GraphRevoker) Revoke(ctx context.Context, client *http.Client, conn *models.Connection) error {
	q := url.Values{"access_token": {conn.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.BaseURL+"/me/permissions?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	_, err = doJSON(ctx, client, req, nil)
	return err
}

// FormRevoker posts an RFC 7009 style revocation form. Twitter expects the
// client credentials as basic auth; TikTok expects them in the form.
type FormRevoker struct {
	URL          string
	ClientID     string
	ClientSecret string
	// ClientIDParam names the form field for the client id. Empty means
	// send the credentials as basic auth instead.
	ClientIDParam string
}

func (f FormRevoker) Revoke(ctx context.Context, client *http.Client, conn *models.Connection) error {
	form := url.Values{
		"token":           {conn.AccessToken},
		"token_type_hint": {"access_token"},
	}
	if f.ClientIDParam != "" {
		form.Set(f.ClientIDParam, f.ClientID)
		form.Set("client_secret", f.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if f.ClientIDParam == "" {
		req.SetBasicAuth(url.QueryEscape(f.ClientID), url.QueryEscape(f.ClientSecret))
	}
	_, err = doJSON(ctx, client, req, nil)
	return err
}

// TokenUpgrader swaps a short-lived access token for a long-lived one.
type TokenUpgrader interface {
	Upgrade(ctx context.Context, client *http.Client, creds *Credentials) (*Credentials, error)
}

// GraphTokenUpgrader performs the Graph API fb_exchange_token grant.
type GraphTokenUpgrader struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Now          func() time.Time
}

func (g GraphTokenUpgrader) Upgrade(ctx context.Context, client *http.Client, creds *Credentials) (*Credentials, error) {
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {g.ClientID},
		"client_secret":     {g.ClientSecret},
		"fb_exchange_token": {creds.AccessToken},
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if _, err := getJSON(ctx, client, g.BaseURL+"/oauth/access_token?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return creds, nil
	}

	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	upgraded := *creds
	upgraded.AccessToken = resp.AccessToken
	upgraded.Expiry = time.Time{}
	if resp.ExpiresIn > 0 {
		upgraded.Expiry = now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return &upgraded, nil
}
