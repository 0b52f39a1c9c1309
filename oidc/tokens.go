package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/vyrodovalexey/oidcrp/discovery"
	"github.com/vyrodovalexey/oidcrp/observability"
)

// TokenSet holds the tokens issued by a provider's token endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	ExpiresAt    time.Time
}

// Expired reports whether the access token has expired, treating the
// skew window before expiry as already expired so callers refresh
// ahead of time.
func (t *TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// tokenResponse is the token endpoint wire format.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// TokenManager holds a token set and refreshes it through the
// provider's token endpoint when it expires. It is safe for
// concurrent use.
type TokenManager struct {
	discovery    *discovery.Client
	client       *http.Client
	clientID     string
	clientSecret string
	skew         time.Duration
	logger       observability.Logger
	now          func() time.Time

	mu      sync.Mutex
	current TokenSet
}

// TokenManagerOption is a functional option for the TokenManager.
type TokenManagerOption func(*TokenManager)

// WithTokenHTTPClient sets the HTTP client for token endpoint calls.
func WithTokenHTTPClient(client *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger observability.Logger) TokenManagerOption {
	return func(m *TokenManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithExpirySkew refreshes tokens this long before their actual
// expiry.
func WithExpirySkew(skew time.Duration) TokenManagerOption {
	return func(m *TokenManager) {
		if skew >= 0 {
			m.skew = skew
		}
	}
}

// NewTokenManager creates a token manager for the given client
// credentials, resolving the token endpoint through discovery.
func NewTokenManager(dc *discovery.Client, clientID, clientSecret string, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		discovery:    dc,
		client:       &http.Client{Timeout: 30 * time.Second},
		clientID:     clientID,
		clientSecret: clientSecret,
		skew:         30 * time.Second,
		logger:       observability.NopLogger(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// SetTokens installs a token set obtained out of band, typically from
// an initial authorization flow handled elsewhere.
func (m *TokenManager) SetTokens(tokens TokenSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = tokens
}

// Tokens returns a copy of the current token set.
func (m *TokenManager) Tokens() TokenSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AccessToken returns a live access token, refreshing through the
// token endpoint first if the current one has expired.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.AccessToken != "" && !m.current.Expired(m.now(), m.skew) {
		return m.current.AccessToken, nil
	}

	if err := m.refreshLocked(ctx); err != nil {
		return "", err
	}

	return m.current.AccessToken, nil
}

// Refresh forces a refresh through the token endpoint.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *TokenManager) refreshLocked(ctx context.Context) error {
	if m.current.RefreshToken == "" {
		return fmt.Errorf("no refresh token available")
	}

	doc, err := m.discovery.GetConfig(ctx, false)
	if err != nil {
		return err
	}
	if doc.TokenEndpoint == "" {
		return fmt.Errorf("provider has no token endpoint")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {m.current.RefreshToken},
		"client_id":     {m.clientID},
	}
	if m.clientSecret != "" {
		form.Set("client_secret", m.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fmt.Errorf("parsing token response: %w", err)
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token response has no access token")
	}

	m.current.AccessToken = tr.AccessToken
	m.current.TokenType = tr.TokenType
	if tr.RefreshToken != "" {
		m.current.RefreshToken = tr.RefreshToken
	}
	if tr.IDToken != "" {
		m.current.IDToken = tr.IDToken
	}
	if tr.ExpiresIn > 0 {
		m.current.ExpiresAt = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else {
		m.current.ExpiresAt = time.Time{}
	}

	m.logger.Debug("token refreshed",
		observability.Time("expires_at", m.current.ExpiresAt))

	return nil
}
