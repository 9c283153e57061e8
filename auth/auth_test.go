package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/oauth2"
)

func tokenServer(t *testing.T, access string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  access,
			"token_type":    "Bearer",
			"refresh_token": "refresh-" + r.Form.Get("grant_type"),
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://accounts.example.com/auth",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"https://www.googleapis.com/auth/gmail.readonly"},
	}
}

func apiServer(t *testing.T) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

type staticAuthorizer struct {
	tok   *oauth2.Token
	calls int
}

func (s *staticAuthorizer) Authorize(context.Context, *oauth2.Config) (*oauth2.Token, error) {
	s.calls++
	return s.tok, nil
}

func TestFileTokenCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	cache := NewFileTokenCache(path)

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrNoToken)

	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, cache.Save(want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))
	_, err = cache.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)
}

func TestNewSessionUsesCachedToken(t *testing.T) {
	tokens, calls := tokenServer(t, "unused")
	api, seen := apiServer(t)

	cache := NewFileTokenCache(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, cache.Save(&oauth2.Token{AccessToken: "cached", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}))

	client, err := NewSession(context.Background(), testConfig(tokens.URL), cache, nil)
	require.NoError(t, err)

	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer cached", seen.Load())
	assert.Zero(t, calls.Load())
}

func TestNewSessionRefreshesAndPersists(t *testing.T) {
	tokens, calls := tokenServer(t, "fresh")
	api, seen := apiServer(t)

	cache := NewFileTokenCache(filepath.Join(t.TempDir(), "token.json"))
	require.NoError(t, cache.Save(&oauth2.Token{AccessToken: "stale", RefreshToken: "r", TokenType: "Bearer", Expiry: time.Now().Add(-time.Hour)}))

	client, err := NewSession(context.Background(), testConfig(tokens.URL), cache, nil)
	require.NoError(t, err)

	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer fresh", seen.Load())
	assert.Equal(t, int32(1), calls.Load())

	saved, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
}

func TestNewSessionAuthorization(t *testing.T) {
	tokens, _ := tokenServer(t, "unused")

	t.Run("required without authorizer", func(t *testing.T) {
		cache := NewFileTokenCache(filepath.Join(t.TempDir(), "token.json"))
		_, err := NewSession(context.Background(), testConfig(tokens.URL), cache, nil)
		assert.ErrorIs(t, err, ErrAuthorizationRequired)
	})

	t.Run("authorizer token is cached", func(t *testing.T) {
		cache := NewFileTokenCache(filepath.Join(t.TempDir(), "token.json"))
		authz := &staticAuthorizer{tok: &oauth2.Token{AccessToken: "minted", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}}

		_, err := NewSession(context.Background(), testConfig(tokens.URL), cache, authz)
		require.NoError(t, err)
		assert.Equal(t, 1, authz.calls)

		saved, err := cache.Load()
		require.NoError(t, err)
		assert.Equal(t, "minted", saved.AccessToken)
	})
}

func TestLoopbackAuthorizer(t *testing.T) {
	tokens, calls := tokenServer(t, "exchanged")

	var redirectErr error
	authz := &LoopbackAuthorizer{
		Logger: zaptest.NewLogger(t),
		Open: func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			q := u.Query()
			assert.Equal(t, "offline", q.Get("access_type"))
			redirect := q.Get("redirect_uri") + "?state=" + url.QueryEscape(q.Get("state")) + "&code=abc"
			resp, err := http.Get(redirect)
			if err != nil {
				redirectErr = err
				return nil
			}
			resp.Body.Close()
			return nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tok, err := authz.Authorize(ctx, testConfig(tokens.URL))
	require.NoError(t, redirectErr)
	require.NoError(t, err)
	assert.Equal(t, "exchanged", tok.AccessToken)
	assert.Equal(t, "refresh-authorization_code", tok.RefreshToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoopbackAuthorizerStateMismatch(t *testing.T) {
	tokens, calls := tokenServer(t, "exchanged")

	authz := &LoopbackAuthorizer{
		Open: func(authURL string) error {
			u, _ := url.Parse(authURL)
			resp, err := http.Get(u.Query().Get("redirect_uri") + "?state=forged&code=abc")
			if err == nil {
				resp.Body.Close()
			}
			return err
		},
	}

	_, err := authz.Authorize(context.Background(), testConfig(tokens.URL))
	assert.ErrorContains(t, err, "state mismatch")
	assert.Zero(t, calls.Load())
}
