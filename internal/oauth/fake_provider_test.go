package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/internal/testutil"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/stretchr/testify/require"
)

// fakeProviders serves every provider endpoint the registry talks to.
type fakeProviders struct {
	t      *testing.T
	server *httptest.Server

	mu sync.Mutex
	// forms holds the last form posted to each path.
	forms map[string]url.Values
	// auth holds the last Authorization header seen on each path.
	auth map[string]string
	hits map[string]int
	// fail makes a path answer with the given status.
	fail map[string]int
	// profileIDs overrides the account id returned by profile endpoints.
	profileIDs map[string]string
}

func newFakeProviders(t *testing.T) *fakeProviders {
	t.Helper()

	f := &fakeProviders{
		t:          t,
		forms:      make(map[string]url.Values),
		auth:       make(map[string]string),
		hits:       make(map[string]int),
		fail:       make(map[string]int),
		profileIDs: make(map[string]string),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProviders) endpoints() Endpoints {
	base := f.server.URL
	return Endpoints{
		FacebookAuthURL:  base + "/fb/auth",
		FacebookTokenURL: base + "/fb/token",
		FacebookAPI:      base + "/fb/api",

		InstagramAuthURL:  base + "/ig/auth",
		InstagramTokenURL: base + "/ig/token",
		InstagramAPI:      base + "/ig/api",

		TwitterAuthURL:         base + "/tw/auth",
		TwitterTokenURL:        base + "/tw/token",
		TwitterRevokeURL:       base + "/tw/revoke",
		TwitterAPI:             base + "/tw/api",
		TwitterRequestTokenURL: base + "/tw/request_token",
		TwitterAuthorizeURL:    base + "/tw/authorize",
		TwitterAccessTokenURL:  base + "/tw/access_token",

		TikTokAuthURL:   base + "/tt/auth",
		TikTokTokenURL:  base + "/tt/token",
		TikTokRevokeURL: base + "/tt/revoke",
		TikTokAPI:       base + "/tt/api",

		AmazonAuthURL:  base + "/amz/auth",
		AmazonTokenURL: base + "/amz/token",
		AmazonAPI:      base + "/amz/api",
	}
}

func (f *fakeProviders) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeProviders) Form(path string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[path]
}

func (f *fakeProviders) Auth(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth[path]
}

func (f *fakeProviders) Fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = status
}

func (f *fakeProviders) SetProfileID(path, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileIDs[path] = id
}

func (f *fakeProviders) profileID(path, def string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.profileIDs[path]; ok {
		return id
	}
	return def
}

func (f *fakeProviders) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	_ = r.ParseForm()

	f.mu.Lock()
	f.hits[path]++
	f.forms[path] = r.PostForm
	f.auth[path] = r.Header.Get("Authorization")
	status, failing := f.fail[path]
	f.mu.Unlock()

	if failing {
		writeJSON(w, status, map[string]any{"error": "invalid_request", "error_description": "forced failure"})
		return
	}

	switch path {
	case "/fb/token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "fb-short", "token_type": "bearer", "expires_in": 3600,
		})
	case "/fb/api/oauth/access_token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "fb-long:" + r.URL.Query().Get("fb_exchange_token"), "expires_in": 5184000,
		})
	case "/fb/api/me":
		if !f.bearer(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id": f.profileID(path, "fb-1"), "name": "Ada Lovelace", "email": "ada@example.com",
			"picture": map[string]any{"data": map[string]any{"url": "https://fb.example/ada.png"}},
		})
	case "/fb/api/me/permissions":
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "/ig/token":
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "ig-access", "user_id": 17841400000})
	case "/ig/api/me":
		writeJSON(w, http.StatusOK, map[string]any{
			"id": f.profileID(path, "ig-1"), "username": "ada.ig", "account_type": "BUSINESS", "media_count": 42,
		})

	case "/tw/token":
		if r.PostForm.Get("grant_type") == "refresh_token" {
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "tw-access-2", "refresh_token": "tw-refresh-2", "token_type": "bearer",
				"expires_in": 7200, "scope": "tweet.read tweet.write users.read offline.access",
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tw-access", "refresh_token": "tw-refresh", "token_type": "bearer",
			"expires_in": 7200, "scope": "tweet.read tweet.write users.read offline.access",
		})
	case "/tw/revoke":
		writeJSON(w, http.StatusOK, map[string]any{"revoked": true})
	case "/tw/api/2/users/me":
		if !f.bearer(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"id": f.profileID(path, "tw-1"), "name": "Ada", "username": "ada",
			"profile_image_url": "https://tw.example/ada.png",
			"public_metrics":    map[string]any{"followers_count": 10, "following_count": 2, "tweet_count": 99, "listed_count": 1},
		}})
	case "/tw/request_token":
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		fmt.Fprint(w, "oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true")
	case "/tw/access_token":
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_verifier="verifier-1"`) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []map[string]any{{"code": 89, "message": "Invalid or expired token."}}})
			return
		}
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		fmt.Fprint(w, "oauth_token=media-token&oauth_token_secret=media-secret&user_id=123&screen_name=ada")
	case "/tw/api/1.1/account/verify_credentials.json":
		if !strings.Contains(r.Header.Get("Authorization"), `oauth_token="media-token"`) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"errors": []map[string]any{{"code": 32, "message": "Could not authenticate you."}}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id_str": f.profileID(path, "123"), "screen_name": "ada", "name": "Ada",
			"followers_count": 10, "friends_count": 2, "statuses_count": 99,
		})

	case "/tt/token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "tt-access", "refresh_token": "tt-refresh", "token_type": "Bearer",
			"expires_in": 86400, "open_id": "tt-open-1", "scope": "user.info.basic,video.publish",
		})
	case "/tt/revoke":
		writeJSON(w, http.StatusOK, map[string]any{"error": map[string]any{"code": "ok"}})
	case "/tt/api/v2/user/info/":
		writeJSON(w, http.StatusOK, map[string]any{
			"data": map[string]any{"user": map[string]any{
				"open_id": f.profileID(path, "tt-open-1"), "display_name": "Ada TT", "username": "ada.tt",
				"follower_count": 5, "video_count": 3,
			}},
			"error": map[string]any{"code": "ok"},
		})

	case "/amz/token":
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "amz-access", "refresh_token": "amz-refresh", "token_type": "bearer", "expires_in": 3600,
		})
	case "/amz/api/user/profile":
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id": f.profileID(path, "amzn1.account.1"), "name": "Ada", "email": "ada@amazon.example",
		})

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeProviders) bearer(w http.ResponseWriter, r *http.Request) bool {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "missing token"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// stubIssuer hands out predictable application tokens.
type stubIssuer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubIssuer) IssueTokens(_ context.Context, user *models.User) (*session.UserTokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &session.UserTokens{
		AccessToken:  "app-access-" + user.ID.String(),
		RefreshToken: "app-refresh-" + user.ID.String(),
		ExpiresAt:    time.Now().Add(15 * time.Minute),
	}, nil
}

func (s *stubIssuer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type harness struct {
	ctrl     *Controller
	sessions *session.Service
	store    *testutil.MemoryStore
	fake     *fakeProviders
	issuer   *stubIssuer
	clock    *testutil.Clock
}

func testProvidersConfig() config.ProvidersConfig {
	creds := func(name string) config.ProviderCredentials {
		return config.ProviderCredentials{ClientID: name + "-client", ClientSecret: name + "-secret"}
	}
	return config.ProvidersConfig{
		Facebook:     creds("fb"),
		Instagram:    creds("ig"),
		Twitter:      creds("tw"),
		TwitterMedia: config.OAuth1Credentials{ConsumerKey: "tw-consumer", ConsumerSecret: "tw-consumer-secret"},
		TikTok:       creds("tt"),
		Amazon:       creds("amz"),
	}
}

func setupController(t *testing.T) *harness {
	t.Helper()

	fake := newFakeProviders(t)
	clock := testutil.NewClock(time.Now())
	store := testutil.NewMemoryStore()
	store.Now = clock.Now

	codec := session.NewCodec([]byte("test-session-secret-32-bytes-long!!"), 7*24*time.Hour, session.WithClock(clock.Now))
	sessions := session.NewService(codec, session.Options{
		TTL:            7 * 24 * time.Hour,
		TransactionTTL: 10 * time.Minute,
		Now:            clock.Now,
	})

	server := config.ServerConfig{BaseURL: "http://connect.test"}
	issuer := &stubIssuer{}
	ctrl := NewController(Options{
		Providers:  NewProviders(testProvidersConfig(), server, fake.endpoints()),
		Sessions:   sessions,
		Store:      store,
		Tokens:     issuer,
		HTTPClient: fake.server.Client(),
		Now:        clock.Now,
	})

	return &harness{
		ctrl:     ctrl,
		sessions: sessions,
		store:    store,
		fake:     fake,
		issuer:   issuer,
		clock:    clock,
	}
}

// signedIn stores a user and returns a session for it.
func (h *harness) signedIn() (*models.User, *session.Session) {
	user := h.store.AddUser(testutil.TestUser())
	return user, testutil.TestSession(user)
}

// begin starts a flow and returns the recorded transaction.
func (h *harness) begin(t *testing.T, sess *session.Session, provider string, intent session.Intent) (*BeginResult, *session.OAuthTransaction) {
	t.Helper()

	res, err := h.ctrl.Begin(context.Background(), sess, BeginRequest{Provider: provider, Intent: intent})
	require.NoError(t, err)
	tx := sess.OAuthTransactions[provider]
	require.NotNil(t, tx)
	return res, tx
}

// callback returns the params a provider would redirect back with.
func callback(tx *session.OAuthTransaction) CallbackParams {
	if tx.OAuthToken != "" {
		return CallbackParams{OAuthToken: tx.OAuthToken, OAuthVerifier: "verifier-1"}
	}
	return CallbackParams{Code: "code-1", State: tx.State}
}
