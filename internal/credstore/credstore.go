// Package credstore provides the engine's CredentialStore: a small,
// mutex-guarded collaborator that resolves provider API keys from the
// environment or from config, and caches MCP extension-tool bearer tokens
// obtained via OAuth2 token-exchange.
//
// Grounded on the teacher's pkg/auth.Store: a file-backed, mutex-guarded
// struct with a Refresh method that POSTs an OAuth grant and caches the
// result. Generalized here from a single OpenAI OAuth token file to a
// small multi-provider key map plus a token-exchange cache for MCP.
package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when no credential source has the requested
// key.
var ErrKeyNotFound = errors.New("credstore: key not found")

// Clock is the minimal time source credstore needs for token expiry
// bookkeeping; satisfied by internal/clock.Clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Store resolves provider API keys and caches MCP bearer tokens.
type Store struct {
	mu sync.Mutex

	// fromConfig, when true, resolves keys from configKeys instead of the
	// process environment (spec.md §6: GET_API_KEYS_FROM_CONFIG).
	fromConfig bool
	configKeys map[string]string

	clock      Clock
	httpClient *http.Client
	mcpTokens  map[string]mcpToken
}

type mcpToken struct {
	AccessToken string
	CreatedAt   time.Time
	ExpiresIn   time.Duration
}

func (t mcpToken) expired(now time.Time) bool {
	return t.CreatedAt.Add(t.ExpiresIn).Before(now)
}

// New builds a Store. configKeys is consulted only when fromConfig is
// true; it mirrors config.apiKeys.<KEY_NAME>.
func New(fromConfig bool, configKeys map[string]string) *Store {
	return &Store{
		fromConfig: fromConfig,
		configKeys: configKeys,
		clock:      systemClock{},
		httpClient: http.DefaultClient,
		mcpTokens:  map[string]mcpToken{},
	}
}

// WithClock overrides the Store's time source. Intended for tests.
func (s *Store) WithClock(c Clock) *Store {
	s.mu.Lock()
	s.clock = c
	s.mu.Unlock()
	return s
}

// WithHTTPClient overrides the Store's HTTP client. Intended for tests.
func (s *Store) WithHTTPClient(c *http.Client) *Store {
	s.mu.Lock()
	s.httpClient = c
	s.mu.Unlock()
	return s
}

// APIKey resolves a named credential (e.g. "OPENAI_API_KEY",
// "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "TAVILY_API_KEY"). When
// fromConfig is set the key comes from configKeys; otherwise from the
// process environment.
func (s *Store) APIKey(name string) (string, error) {
	s.mu.Lock()
	fromConfig := s.fromConfig
	configKeys := s.configKeys
	s.mu.Unlock()

	var v string
	if fromConfig {
		v = configKeys[name]
	} else {
		v = os.Getenv(name)
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%s: %w", name, ErrKeyNotFound)
	}
	return v, nil
}

// MCPBearerToken returns a cached, non-expired bearer token for mcpURL,
// exchanging subjectToken for a fresh one via OAuth2 token-exchange
// (urn:ietf:params:oauth:grant-type:token-exchange) when the cache is
// empty or stale.
func (s *Store) MCPBearerToken(ctx context.Context, mcpURL, subjectToken string) (string, error) {
	s.mu.Lock()
	tok, ok := s.mcpTokens[mcpURL]
	now := s.clock.Now()
	s.mu.Unlock()

	if ok && !tok.expired(now) {
		return tok.AccessToken, nil
	}

	fresh, err := s.exchangeToken(ctx, mcpURL, subjectToken)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.evictExpiredLocked(now)
	s.mcpTokens[mcpURL] = fresh
	s.mu.Unlock()

	return fresh.AccessToken, nil
}

// evictExpiredLocked drops cache entries whose created_at + expires_in has
// passed. Callers must hold s.mu.
func (s *Store) evictExpiredLocked(now time.Time) {
	for mcpURL, tok := range s.mcpTokens {
		if tok.expired(now) {
			delete(s.mcpTokens, mcpURL)
		}
	}
}

func (s *Store) exchangeToken(ctx context.Context, mcpURL, subjectToken string) (mcpToken, error) {
	form := url.Values{
		"grant_type":         {"urn:ietf:params:oauth:grant-type:token-exchange"},
		"subject_token":      {subjectToken},
		"subject_token_type": {"access_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(mcpURL, "/")+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return mcpToken{}, fmt.Errorf("credstore: build token-exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return mcpToken{}, fmt.Errorf("credstore: token-exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	var rr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return mcpToken{}, fmt.Errorf("credstore: decode token-exchange response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(rr.Error)
		if detail == "" {
			detail = resp.Status
		}
		return mcpToken{}, fmt.Errorf("credstore: token-exchange rejected: %s", detail)
	}
	if rr.AccessToken == "" {
		return mcpToken{}, errors.New("credstore: token-exchange response missing access_token")
	}

	return mcpToken{
		AccessToken: rr.AccessToken,
		CreatedAt:   s.clock.Now(),
		ExpiresIn:   time.Duration(rr.ExpiresIn) * time.Second,
	}, nil
}
