package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/ConnectService/internal/models"
	"github.com/ieraasyl/ConnectService/internal/oauth"
	"github.com/ieraasyl/ConnectService/internal/ratelimit"
	"github.com/ieraasyl/ConnectService/internal/services"
	"github.com/ieraasyl/ConnectService/internal/session"
	"github.com/ieraasyl/ConnectService/internal/testutil"
	"github.com/ieraasyl/ConnectService/pkg/config"
	"github.com/rs/zerolog"
)

const (
	testSessionSecret = "handlers-session-secret-32-bytes!!"
	testJWTSecret     = "handlers-jwt-secret-min-32-bytes-long"
	testFrontendURL   = "http://app.test"
)

// fakeTwitter serves the Twitter OAuth2 endpoints.
type fakeTwitter struct {
	server *httptest.Server

	mu   sync.Mutex
	hits map[string]int
	// fail makes a path answer with the given status.
	fail map[string]int
}

func newFakeTwitter(t *testing.T) *fakeTwitter {
	t.Helper()

	f := &fakeTwitter{hits: make(map[string]int), fail: make(map[string]int)}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTwitter) Fail(path string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[path] = status
}

func (f *fakeTwitter) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *fakeTwitter) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()

	f.mu.Lock()
	f.hits[r.URL.Path]++
	status, failing := f.fail[r.URL.Path]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if failing {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "30")
		}
		w.WriteHeader(status)
		fmt.Fprint(w, `{"title":"forced failure","detail":"forced failure"}`)
		return
	}

	switch r.URL.Path {
	case "/tw/token":
		access, refresh := "tw-access", "tw-refresh"
		if r.PostForm.Get("grant_type") == "refresh_token" {
			access, refresh = "tw-access-2", "tw-refresh-2"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": access, "refresh_token": refresh, "token_type": "bearer",
			"expires_in": 7200, "scope": "tweet.read tweet.write users.read offline.access",
		})
	case "/tw/revoke":
		fmt.Fprint(w, `{"revoked":true}`)
	case "/tw/api/2/users/me":
		fmt.Fprint(w, `{"data":{"id":"tw-1","name":"Ada","username":"ada","profile_image_url":"https://tw.example/ada.png"}}`)
	default:
		http.NotFound(w, r)
	}
}

// testEnv is a full router over in-memory persistence and a fake provider.
type testEnv struct {
	router   http.Handler
	sessions *session.Service
	codec    *session.Codec
	store    *testutil.MemoryStore
	tokens   *services.TokenService
	fake     *fakeTwitter
	mr       *miniredis.Miniredis
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	t.Cleanup(cleanup)

	fake := newFakeTwitter(t)
	store := testutil.NewMemoryStore()
	tokens := services.NewTokenService(&config.JWTConfig{
		Secret:        testJWTSecret,
		AccessExpiry:  15 * time.Minute,
		RefreshExpiry: 7 * 24 * time.Hour,
	}, testutil.NewTestRedisDB(t, mr))

	codec := session.NewCodec([]byte(testSessionSecret), 7*24*time.Hour)
	sessions := session.NewService(codec, session.Options{
		TTL:            7 * 24 * time.Hour,
		TransactionTTL: 10 * time.Minute,
	})

	base := fake.server.URL
	providers := oauth.NewProviders(config.ProvidersConfig{
		Twitter: config.ProviderCredentials{ClientID: "tw-client", ClientSecret: "tw-secret"},
	}, config.ServerConfig{BaseURL: "http://connect.test"}, oauth.Endpoints{
		TwitterAuthURL:   base + "/tw/auth",
		TwitterTokenURL:  base + "/tw/token",
		TwitterRevokeURL: base + "/tw/revoke",
		TwitterAPI:       base + "/tw/api",
	})

	controller := oauth.NewController(oauth.Options{
		Providers:  providers,
		Sessions:   sessions,
		Store:      store,
		Tokens:     tokens,
		HTTPClient: fake.server.Client(),
	})

	ui := UIRoutes{FrontendURL: testFrontendURL, LoginPath: "/login"}
	router := Router(RouterOptions{
		Logger:    zerolog.Nop(),
		Sessions:  sessions,
		Providers: providers,
		Tokens:    tokens,
		Limiter: ratelimit.NewLimiter(ratelimit.NewMemoryStore(),
			ratelimit.WithPolicy(models.PlatformTwitter, ratelimit.Policy{Window: time.Minute, MaxRequests: 3}),
		),
		Connect:          NewConnectHandler(controller, sessions, store, ui),
		Auth:             NewAuthHandler(controller, sessions, tokens, store, ui),
		Health:           NewHealthHandler(nil, testutil.NewTestRedisDB(t, mr)),
		AllowedOrigins:   []string{testFrontendURL},
		LoginPath:        "/login",
		IPRequestsPerMin: 100,
	})

	return &testEnv{
		router:   router,
		sessions: sessions,
		codec:    codec,
		store:    store,
		tokens:   tokens,
		fake:     fake,
		mr:       mr,
	}
}

// signedIn stores a user and returns its session.
func (e *testEnv) signedIn() (*models.User, *session.Session) {
	user := e.store.AddUser(testutil.TestUser())
	return user, testutil.TestSession(user)
}

// do serves req, attaching sess as the session cookie when non-nil.
func (e *testEnv) do(t *testing.T, req *http.Request, sess *session.Session) *httptest.ResponseRecorder {
	t.Helper()

	if sess != nil {
		req = testutil.WithSession(t, e.sessions, req, sess)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// carry replays the session cookie set by a previous response.
func (e *testEnv) carry(t *testing.T, from *httptest.ResponseRecorder, req *http.Request) *http.Request {
	t.Helper()

	for _, c := range from.Result().Cookies() {
		if c.Name == e.sessions.CookieName() {
			req.AddCookie(c)
			return req
		}
	}
	t.Fatalf("response did not set %s", e.sessions.CookieName())
	return req
}

// sessionOf decodes the session cookie set by rec.
func (e *testEnv) sessionOf(t *testing.T, rec *httptest.ResponseRecorder) *session.Session {
	t.Helper()
	return testutil.AssertSessionCookie(t, rec, e.codec, e.sessions.CookieName())
}
