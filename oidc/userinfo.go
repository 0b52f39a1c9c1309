package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vyrodovalexey/oidcrp/observability"
)

// UserInfo contains user information from the userinfo endpoint.
type UserInfo struct {
	Subject       string         `json:"sub"`
	Name          string         `json:"name,omitempty"`
	GivenName     string         `json:"given_name,omitempty"`
	FamilyName    string         `json:"family_name,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Picture       string         `json:"picture,omitempty"`
	Locale        string         `json:"locale,omitempty"`
	Claims        map[string]any `json:"-"`
}

// UserInfoClient fetches user information with a bearer token.
type UserInfoClient struct {
	client *http.Client
	logger observability.Logger
}

// NewUserInfoClient creates a userinfo client. A nil http client gets
// a default with a 30s timeout.
func NewUserInfoClient(client *http.Client, logger observability.Logger) *UserInfoClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &UserInfoClient{client: client, logger: logger}
}

// Get fetches the userinfo endpoint with the given access token.
func (c *UserInfoClient) Get(ctx context.Context, endpoint, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parsing userinfo response: %w", err)
	}
	if err := json.Unmarshal(body, &info.Claims); err != nil {
		return nil, fmt.Errorf("parsing userinfo claims: %w", err)
	}

	c.logger.Debug("userinfo fetched", observability.String("subject", info.Subject))

	return &info, nil
}
