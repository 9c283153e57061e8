// Package auth obtains, persists, and refreshes OAuth tokens for the Gmail
// mailbox source. The token cache is passed in explicitly by the caller.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrNoToken is returned by a TokenCache that holds nothing yet.
	ErrNoToken = errors.New("no cached token")
	// ErrAuthorizationRequired means no usable token exists and no
	// interactive authorizer was supplied.
	ErrAuthorizationRequired = errors.New("authorization required")
)

// TokenCache stores a single OAuth token.
type TokenCache interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// Authorizer runs an interactive flow to mint a fresh token.
type Authorizer interface {
	Authorize(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)
}

// ConfigFromFile reads Google client secrets JSON.
func ConfigFromFile(path string, scopes ...string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return cfg, nil
}

// NewSession returns an HTTP client authorized with a cached token,
// refreshing it when expired. When the cache is empty or the token cannot
// be refreshed, authorize is run and its token is cached. Refreshed tokens
// are written back to the cache.
func NewSession(ctx context.Context, cfg *oauth2.Config, cache TokenCache, authorize Authorizer) (*http.Client, error) {
	tok, err := cache.Load()
	if err != nil && !errors.Is(err, ErrNoToken) {
		return nil, fmt.Errorf("load token: %w", err)
	}

	if tok != nil {
		src := &persistingSource{src: cfg.TokenSource(ctx, tok), cache: cache, last: tok}
		_, refreshErr := src.Token()
		if refreshErr == nil {
			return oauth2.NewClient(ctx, src), nil
		}
		if authorize == nil {
			return nil, fmt.Errorf("%w: refresh token: %v", ErrAuthorizationRequired, refreshErr)
		}
	}

	if authorize == nil {
		return nil, ErrAuthorizationRequired
	}

	tok, err = authorize.Authorize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if err := cache.Save(tok); err != nil {
		return nil, err
	}

	src := &persistingSource{src: cfg.TokenSource(ctx, tok), cache: cache, last: tok}
	return oauth2.NewClient(ctx, src), nil
}

// persistingSource saves every token that differs from the last one seen.
type persistingSource struct {
	mu    sync.Mutex
	src   oauth2.TokenSource
	cache TokenCache
	last  *oauth2.Token
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && s.last.AccessToken == tok.AccessToken {
		return tok, nil
	}
	if err := s.cache.Save(tok); err != nil {
		return nil, err
	}
	s.last = tok
	return tok, nil
}

// FileTokenCache keeps the token as JSON in a single file.
type FileTokenCache struct {
	path string
}

func NewFileTokenCache(path string) *FileTokenCache {
	return &FileTokenCache{path: path}
}

func (c *FileTokenCache) Path() string {
	return c.path
}

func (c *FileTokenCache) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token cache: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token cache %s: %w", c.path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}

func (c *FileTokenCache) Save(tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace token cache: %w", err)
	}
	return nil
}
