package auth_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campus-rp/paas/internal/auth"
	"github.com/campus-rp/paas/internal/rbac"
	"github.com/campus-rp/paas/internal/sessionstore"
	"github.com/campus-rp/paas/internal/token"
	_ "github.com/campus-rp/paas/testing"
)

type idpProfile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// fakeIdP is an OAuth2 provider keyed by authorization code. The code
// "broken" makes the token endpoint fail and "slow" makes it hang.
type fakeIdP struct {
	server   *httptest.Server
	profiles map[string]idpProfile
	delay    time.Duration
}

func newFakeIdP(t *testing.T, profiles map[string]idpProfile) *fakeIdP {
	t.Helper()
	idp := &fakeIdP{profiles: profiles, delay: 300 * time.Millisecond}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		code := r.PostForm.Get("code")
		switch code {
		case "broken":
			http.Error(w, `{"error":"server_error"}`, http.StatusInternalServerError)
			return
		case "slow":
			time.Sleep(idp.delay)
		}
		if _, ok := idp.profiles[code]; !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-" + code,
			"refresh_token": "rt-" + code,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		prof, ok := idp.profiles[strings.TrimPrefix(bearer, "at-")]
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(prof)
	})
	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

type fixture struct {
	engine   *auth.Engine
	store    *sessionstore.MemoryStore
	sessions *auth.SessionManager
	codec    *token.Codec
	idp      *fakeIdP
}

type fixtureOptions struct {
	allowed   []string
	directory auth.Directory
	observer  auth.Observer
	timeout   time.Duration
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	idp := newFakeIdP(t, map[string]idpProfile{
		"student-code": {ID: "g-1", Email: "student@allowed.edu", Name: "Stu Dent", VerifiedEmail: true, Picture: "https://img/1"},
		"staff-code":   {ID: "g-2", Email: "staff-prof@allowed.edu", Name: "Pro Fessor", VerifiedEmail: true},
		"blocked-code": {ID: "g-3", Email: "user@blocked.com", Name: "Blocked"},
		"sub-code":     {ID: "g-4", Email: "lab@CS.Allowed.edu", Name: "Lab"},
		"slow":         {ID: "g-5", Email: "slow@allowed.edu"},
	})
	logger := quietLogger()
	store := sessionstore.NewMemoryStore()
	sessions := auth.NewSessionManager(store, 8*time.Hour, logger)
	resolver := rbac.NewResolver(logger)
	timeout := opts.timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	provider := auth.NewProvider(auth.ProviderConfig{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RedirectURI:    "http://localhost/auth/callback",
		AuthURL:        idp.server.URL + "/auth",
		TokenURL:       idp.server.URL + "/token",
		UserInfoURL:    idp.server.URL + "/userinfo",
		AllowedDomains: opts.allowed,
		Timeout:        timeout,
		HTTPClient:     idp.server.Client(),
	}, store, sessions, resolver, opts.directory, logger)
	codec, err := token.NewCodec([]byte("test-secret"))
	require.NoError(t, err)
	engine := auth.NewEngine(codec, sessions, provider, opts.observer, logger, auth.EngineConfig{})
	return &fixture{engine: engine, store: store, sessions: sessions, codec: codec, idp: idp}
}
