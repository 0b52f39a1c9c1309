// Package oidc ties the relying-party pieces together: one Provider
// per identity provider, wiring discovery, key retrieval, and token
// validation behind a single facade.
package oidc

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/vyrodovalexey/oidcrp/cache"
	"github.com/vyrodovalexey/oidcrp/discovery"
	"github.com/vyrodovalexey/oidcrp/httpx"
	"github.com/vyrodovalexey/oidcrp/jwks"
	"github.com/vyrodovalexey/oidcrp/jwt"
	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// Provider validates tokens issued by a single identity provider.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// ValidateToken validates an access or ID token.
	ValidateToken(ctx context.Context, token string) (*TokenInfo, error)

	// GetUserInfo fetches user information using an access token.
	GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)

	// Discovery returns the provider's discovery document.
	Discovery(ctx context.Context) (*discovery.Document, error)

	// Close releases resources owned by the provider.
	Close() error
}

// TokenInfo is the outcome of a successful validation.
type TokenInfo struct {
	Subject       string         `json:"sub"`
	Issuer        string         `json:"iss"`
	Audience      []string       `json:"aud,omitempty"`
	ExpiresAt     time.Time      `json:"exp,omitempty"`
	IssuedAt      time.Time      `json:"iat,omitempty"`
	Scopes        []string       `json:"scopes,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified,omitempty"`
	Name          string         `json:"name,omitempty"`
	Claims        map[string]any `json:"claims,omitempty"`
}

// Config describes one identity provider.
type Config struct {
	// Name identifies the provider in logs and metrics.
	Name string `yaml:"name"`

	// DiscoveryURL is the well-known discovery document URL.
	DiscoveryURL string `yaml:"discoveryUrl"`

	// Issuer is the expected iss claim.
	Issuer string `yaml:"issuer"`

	// Audience is the expected aud claim.
	Audience string `yaml:"audience"`

	// AllowedAlgs is the signature algorithm allow-list.
	AllowedAlgs []string `yaml:"allowedAlgs"`

	// ClockSkew tolerates clock drift in expiry and not-before checks.
	ClockSkew time.Duration `yaml:"clockSkew"`

	// CacheTTL bounds how long discovery documents and key sets are
	// reused without refetching.
	CacheTTL time.Duration `yaml:"cacheTtl"`
}

type provider struct {
	config     *Config
	discovery  *discovery.Client
	keys       *jwks.Client
	validator  *jwt.Validator
	userinfo   *UserInfoClient
	logger     observability.Logger
	ownedCache cache.Cache
}

// ProviderOption is a functional option for the provider.
type ProviderOption func(*providerDeps)

// providerDeps collects injectable collaborators before construction.
type providerDeps struct {
	logger observability.Logger
	cache  cache.Cache
	getter httpx.Getter
	client *http.Client
}

// WithProviderLogger sets the logger.
func WithProviderLogger(logger observability.Logger) ProviderOption {
	return func(d *providerDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithProviderCache sets a shared cache backend for discovery documents
// and key sets.
func WithProviderCache(c cache.Cache) ProviderOption {
	return func(d *providerDeps) {
		if c != nil {
			d.cache = c
		}
	}
}

// WithProviderGetter sets the HTTP transport for discovery and JWKS
// fetches.
func WithProviderGetter(g httpx.Getter) ProviderOption {
	return func(d *providerDeps) {
		if g != nil {
			d.getter = g
		}
	}
}

// WithProviderHTTPClient sets the HTTP client used for userinfo calls.
func WithProviderHTTPClient(c *http.Client) ProviderOption {
	return func(d *providerDeps) {
		if c != nil {
			d.client = c
		}
	}
}

// NewProvider creates a provider from its configuration.
func NewProvider(cfg *Config, opts ...ProviderOption) (Provider, error) {
	if cfg == nil {
		return nil, oidcerr.New(oidcerr.CodeInvalidDiscoveryURL, "provider config is required")
	}
	if cfg.Issuer == "" {
		return nil, oidcerr.New(oidcerr.CodeInvalidDiscoveryConfig, "provider issuer is required")
	}

	deps := &providerDeps{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(deps)
	}
	var ownedCache cache.Cache
	if deps.cache == nil {
		deps.cache = cache.NewMemory()
		ownedCache = deps.cache
	}
	if deps.getter == nil {
		deps.getter = httpx.NewClient(httpx.WithLogger(deps.logger))
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	dc, err := discovery.NewClient(cfg.DiscoveryURL,
		discovery.WithGetter(deps.getter),
		discovery.WithCache(deps.cache),
		discovery.WithTTL(ttl),
		discovery.WithLogger(deps.logger))
	if err != nil {
		return nil, err
	}

	keys, err := jwks.NewClientFromDiscovery(dc,
		jwks.WithGetter(deps.getter),
		jwks.WithCache(deps.cache),
		jwks.WithTTL(ttl),
		jwks.WithLogger(deps.logger))
	if err != nil {
		return nil, err
	}

	validatorOpts := []jwt.ValidatorOption{jwt.WithLogger(deps.logger)}
	if len(cfg.AllowedAlgs) > 0 {
		validatorOpts = append(validatorOpts, jwt.WithAllowedAlgs(cfg.AllowedAlgs...))
	}
	if cfg.ClockSkew > 0 {
		validatorOpts = append(validatorOpts, jwt.WithClockSkew(cfg.ClockSkew))
	}

	return &provider{
		config:     cfg,
		discovery:  dc,
		keys:       keys,
		validator:  jwt.NewValidator(keys, cfg.Issuer, cfg.Audience, validatorOpts...),
		userinfo:   NewUserInfoClient(deps.client, deps.logger),
		logger:     deps.logger,
		ownedCache: ownedCache,
	}, nil
}

func (p *provider) Name() string {
	return p.config.Name
}

// Close releases the internally owned cache. A cache injected through
// WithProviderCache stays open; its owner closes it.
func (p *provider) Close() error {
	if p.ownedCache == nil {
		return nil
	}
	return p.ownedCache.Close()
}

func (p *provider) Discovery(ctx context.Context) (*discovery.Document, error) {
	return p.discovery.GetConfig(ctx, false)
}

func (p *provider) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	claims, err := p.validator.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	info := extractTokenInfo(claims)
	p.logger.Debug("token validated",
		observability.String("provider", p.config.Name),
		observability.String("subject", info.Subject))

	return info, nil
}

func (p *provider) GetUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	doc, err := p.discovery.GetConfig(ctx, false)
	if err != nil {
		return nil, err
	}
	if doc.UserinfoEndpoint == "" {
		return nil, oidcerr.New(oidcerr.CodeInvalidDiscoveryConfig, "provider has no userinfo endpoint")
	}

	return p.userinfo.Get(ctx, doc.UserinfoEndpoint, accessToken)
}

func extractTokenInfo(claims *jwt.ValidatedClaims) *TokenInfo {
	info := &TokenInfo{
		Subject:  claims.Registered.Subject,
		Issuer:   claims.Registered.Issuer,
		Audience: []string(claims.Registered.Audience),
		Claims:   claims.Raw,
	}

	if claims.Registered.ExpiresAt != nil {
		info.ExpiresAt = claims.Registered.ExpiresAt.Time
	}
	if claims.Registered.IssuedAt != nil {
		info.IssuedAt = claims.Registered.IssuedAt.Time
	}

	if scope, ok := claims.Raw["scope"].(string); ok {
		info.Scopes = strings.Fields(scope)
	}
	if email, ok := claims.Raw["email"].(string); ok {
		info.Email = email
	}
	if verified, ok := claims.Raw["email_verified"].(bool); ok {
		info.EmailVerified = verified
	}
	if name, ok := claims.Raw["name"].(string); ok {
		info.Name = name
	}

	return info
}

var _ Provider = (*provider)(nil)
