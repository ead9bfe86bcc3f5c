package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/platformerr"
)

// maxResponseBody caps provider responses read into memory.
const maxResponseBody = 1 << 20

// Profile is the normalized identity of the account that authorized a flow.
type Profile struct {
	ProviderID string
	Username   string
	Email      string
	AvatarURL  string
	Account    models.Account
	// Raw is the provider's response, stored as the connection's profile.
	Raw json.RawMessage
	// Analytics is a small summary such as follower counts.
	Analytics map[string]any
}

// ProfileFetcher loads the authorizing account with an authorized client.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, client *http.Client, creds *Credentials) (*Profile, error)
}

// doJSON performs a request and decodes a 2xx JSON body into v. Non-2xx
// responses come back as *platformerr.RawError so they can be classified.
func doJSON(ctx context.Context, client *http.Client, req *http.Request, v any) ([]byte, error) {
	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, &platformerr.RawError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &platformerr.RawError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, platformerr.FromResponse(resp, body)
	}
	if v == nil || len(body) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}
	return body, nil
}

func getJSON(ctx context.Context, client *http.Client, rawURL string, v any) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return doJSON(ctx, client, req, v)
}

// GraphProfile fetches /me from the Facebook Graph API.
type GraphProfile struct {
	BaseURL string
}

func (g GraphProfile) FetchProfile(ctx context.Context, client *http.Client, _ *Credentials) (*Profile, error) {
	var me struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Email   string `json:"email"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	raw, err := getJSON(ctx, client, g.BaseURL+"/me?fields=id,name,email,picture", &me)
	if err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, fmt.Errorf("facebook profile has no id")
	}
	return &Profile{
		ProviderID: me.ID,
		Username:   me.Name,
		Email:      me.Email,
		AvatarURL:  me.Picture.Data.URL,
		Account: &models.FacebookAccount{
			ID:         me.ID,
			Name:       me.Name,
			Email:      me.Email,
			PictureURL: me.Picture.Data.URL,
		},
		Raw:       raw,
		Analytics: map[string]any{},
	}, nil
}

// InstagramProfile fetches /me from the Instagram Graph API, which expects
// the token as a query parameter.
type InstagramProfile struct {
	BaseURL string
}

func (g InstagramProfile) FetchProfile(ctx context.Context, client *http.Client, creds *Credentials) (*Profile, error) {
	var me struct {
		ID          string `json:"id"`
		Username    string `json:"username"`
		AccountType string `json:"account_type"`
		MediaCount  int    `json:"media_count"`
	}
	q := url.Values{
		"fields":       {"id,username,account_type,media_count"},
		"access_token": {creds.AccessToken},
	}
	raw, err := getJSON(ctx, client, g.BaseURL+"/me?"+q.Encode(), &me)
	if err != nil {
		return nil, err
	}
	if me.ID == "" {
		return nil, fmt.Errorf("instagram profile has no id")
	}
	return &Profile{
		ProviderID: me.ID,
		Username:   me.Username,
		Account: &models.InstagramAccount{
			ID:          me.ID,
			Username:    me.Username,
			AccountType: me.AccountType,
			MediaCount:  me.MediaCount,
		},
		Raw:       raw,
		Analytics: map[string]any{"media_count": me.MediaCount},
	}, nil
}

// TwitterProfile fetches /2/users/me.
type TwitterProfile struct {
	BaseURL string
}

func (t TwitterProfile) FetchProfile(ctx context.Context, client *http.Client, _ *Credentials) (*Profile, error) {
	var me struct {
		Data struct {
			ID              string `json:"id"`
			Name            string `json:"name"`
			Username        string `json:"username"`
			ProfileImageURL string `json:"profile_image_url"`
			PublicMetrics   struct {
				Followers int `json:"followers_count"`
				Following int `json:"following_count"`
				Tweets    int `json:"tweet_count"`
				Listed    int `json:"listed_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	raw, err := getJSON(ctx, client, t.BaseURL+"/2/users/me?user.fields=profile_image_url,public_metrics", &me)
	if err != nil {
		return nil, err
	}
	d := me.Data
	if d.ID == "" {
		return nil, fmt.Errorf("twitter profile has no id")
	}
	return &Profile{
		ProviderID: d.ID,
		Username:   d.Username,
		AvatarURL:  d.ProfileImageURL,
		Account: &models.TwitterAccount{
			ID:              d.ID,
			Username:        d.Username,
			Name:            d.Name,
			ProfileImageURL: d.ProfileImageURL,
		},
		Raw: raw,
		Analytics: map[string]any{
			"followers_count": d.PublicMetrics.Followers,
			"following_count": d.PublicMetrics.Following,
			"tweet_count":     d.PublicMetrics.Tweets,
			"listed_count":    d.PublicMetrics.Listed,
		},
	}, nil
}

// TwitterLegacyProfile fetches /1.1/account/verify_credentials.json with an
// OAuth1.0a signed client.
type TwitterLegacyProfile struct {
	BaseURL string
}

func (t TwitterLegacyProfile) FetchProfile(ctx context.Context, client *http.Client, creds *Credentials) (*Profile, error) {
	var me struct {
		IDStr           string `json:"id_str"`
		ScreenName      string `json:"screen_name"`
		Name            string `json:"name"`
		ProfileImageURL string `json:"profile_image_url_https"`
		Followers       int    `json:"followers_count"`
		Friends         int    `json:"friends_count"`
		Statuses        int    `json:"statuses_count"`
	}
	raw, err := getJSON(ctx, client, t.BaseURL+"/1.1/account/verify_credentials.json?skip_status=true", &me)
	if err != nil {
		return nil, err
	}
	id := me.IDStr
	if id == "" {
		// The access token response also names the account.
		id = creds.Extra["user_id"]
	}
	if id == "" {
		return nil, fmt.Errorf("twitter credentials have no id")
	}
	username := me.ScreenName
	if username == "" {
		username = creds.Extra["screen_name"]
	}
	return &Profile{
		ProviderID: id,
		Username:   username,
		AvatarURL:  me.ProfileImageURL,
		Account: &models.TwitterAccount{
			ID:              id,
			Username:        username,
			Name:            me.Name,
			ProfileImageURL: me.ProfileImageURL,
			MediaUpload:     true,
		},
		Raw: raw,
		Analytics: map[string]any{
			"followers_count": me.Followers,
			"following_count": me.Friends,
			"tweet_count":     me.Statuses,
		},
	}, nil
}

// TikTokProfile fetches /v2/user/info/. TikTok reports application errors
// inside a 200 response, so the envelope is checked as well.
type TikTokProfile struct {
	BaseURL string
}

func (t TikTokProfile) FetchProfile(ctx context.Context, client *http.Client, creds *Credentials) (*Profile, error) {
	var info struct {
		Data struct {
			User struct {
				OpenID      string `json:"open_id"`
				UnionID     string `json:"union_id"`
				AvatarURL   string `json:"avatar_url"`
				DisplayName string `json:"display_name"`
				Username    string `json:"username"`
				Followers   int    `json:"follower_count"`
				Following   int    `json:"following_count"`
				Likes       int    `json:"likes_count"`
				Videos      int    `json:"video_count"`
			} `json:"user"`
		} `json:"data"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	fields := "open_id,union_id,avatar_url,display_name,username,follower_count,following_count,likes_count,video_count"
	raw, err := getJSON(ctx, client, t.BaseURL+"/v2/user/info/?fields="+fields, &info)
	if err != nil {
		return nil, err
	}
	if info.Error.Code != "" && info.Error.Code != "ok" {
		return nil, &platformerr.RawError{StatusCode: http.StatusOK, Body: raw}
	}
	u := info.Data.User
	if u.OpenID == "" {
		u.OpenID = creds.Extra["open_id"]
	}
	if u.OpenID == "" {
		return nil, fmt.Errorf("tiktok profile has no open_id")
	}
	username := u.Username
	if username == "" {
		username = u.DisplayName
	}
	return &Profile{
		ProviderID: u.OpenID,
		Username:   username,
		AvatarURL:  u.AvatarURL,
		Account: &models.TikTokAccount{
			OpenID:      u.OpenID,
			UnionID:     u.UnionID,
			Username:    u.Username,
			DisplayName: u.DisplayName,
			AvatarURL:   u.AvatarURL,
		},
		Raw: raw,
		Analytics: map[string]any{
			"follower_count":  u.Followers,
			"following_count": u.Following,
			"likes_count":     u.Likes,
			"video_count":     u.Videos,
		},
	}, nil
}

// AmazonProfile fetches the Login with Amazon /user/profile.
type AmazonProfile struct {
	BaseURL string
}

func (a AmazonProfile) FetchProfile(ctx context.Context, client *http.Client, _ *Credentials) (*Profile, error) {
	var me struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Email  string `json:"email"`
	}
	raw, err := getJSON(ctx, client, a.BaseURL+"/user/profile", &me)
	if err != nil {
		return nil, err
	}
	if me.UserID == "" {
		return nil, fmt.Errorf("amazon profile has no user_id")
	}
	return &Profile{
		ProviderID: me.UserID,
		Username:   me.Name,
		Email:      me.Email,
		Account: &models.AmazonAccount{
			UserID: me.UserID,
			Name:   me.Name,
			Email:  me.Email,
		},
		Raw:       raw,
		Analytics: map[string]any{},
	}, nil
}

