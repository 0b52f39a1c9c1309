// Package discovery fetches, validates, and caches OpenID Connect
// provider metadata.
package discovery

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/oidcrp/cache"
	"github.com/vyrodovalexey/oidcrp/httpx"
	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// Document represents an OIDC discovery document. It is immutable once
// parsed and validated.
type Document struct {
	// Issuer is the issuer identifier. Required.
	Issuer string `json:"issuer"`

	// AuthorizationEndpoint is the authorization endpoint URL.
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`

	// TokenEndpoint is the token endpoint URL.
	TokenEndpoint string `json:"token_endpoint,omitempty"`

	// UserinfoEndpoint is the userinfo endpoint URL.
	UserinfoEndpoint string `json:"userinfo_endpoint,omitempty"`

	// JWKSURI is the JWKS endpoint URL. Required.
	JWKSURI string `json:"jwks_uri"`

	// EndSessionEndpoint is the end session endpoint URL.
	EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`

	// IntrospectionEndpoint is the token introspection endpoint URL.
	IntrospectionEndpoint string `json:"introspection_endpoint,omitempty"`

	// RevocationEndpoint is the token revocation endpoint URL.
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`

	// ScopesSupported is the list of supported scopes.
	ScopesSupported []string `json:"scopes_supported,omitempty"`

	// ResponseTypesSupported is the list of supported response types.
	ResponseTypesSupported []string `json:"response_types_supported,omitempty"`

	// GrantTypesSupported is the list of supported grant types.
	GrantTypesSupported []string `json:"grant_types_supported,omitempty"`

	// SubjectTypesSupported is the list of supported subject types.
	SubjectTypesSupported []string `json:"subject_types_supported,omitempty"`

	// IDTokenSigningAlgValuesSupported is the list of supported ID
	// token signing algorithms.
	IDTokenSigningAlgValuesSupported []string `json:"id_token_signing_alg_values_supported,omitempty"`

	// ClaimsSupported is the list of supported claims.
	ClaimsSupported []string `json:"claims_supported,omitempty"`
}

// Client fetches and caches a provider's discovery document. Concurrent
// cache misses coalesce into a single network fetch.
type Client struct {
	discoveryURL string
	getter       httpx.Getter
	cache        cache.Cache
	ownsCache    bool
	ttl          time.Duration
	logger       observability.Logger
	metrics      *Metrics
	group        singleflight.Group
}

// Option is a functional option for the Client.
type Option func(*Client)

// WithGetter sets the HTTP transport.
func WithGetter(getter httpx.Getter) Option {
	return func(c *Client) {
		if getter != nil {
			c.getter = getter
		}
	}
}

// WithCache sets the cache backend.
func WithCache(cc cache.Cache) Option {
	return func(c *Client) {
		if cc != nil {
			c.cache = cc
		}
	}
}

// WithTTL sets the cache TTL for fetched documents.
func WithTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewClient creates a discovery client for the given discovery URL.
func NewClient(discoveryURL string, opts ...Option) (*Client, error) {
	if discoveryURL == "" {
		return nil, oidcerr.New(oidcerr.CodeInvalidDiscoveryURL, "discovery URL must not be empty")
	}

	c := &Client{
		discoveryURL: discoveryURL,
		ttl:          time.Hour,
		logger:       observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.getter == nil {
		c.getter = httpx.NewClient()
	}
	if c.cache == nil {
		c.cache = cache.NewMemory()
		c.ownsCache = true
	}
	if c.metrics == nil {
		c.metrics = GetMetrics()
	}

	return c, nil
}

// URL returns the discovery URL this client fetches from.
func (c *Client) URL() string {
	return c.discoveryURL
}

// Close releases the internally owned cache and its cleanup goroutine.
// A cache injected through WithCache stays open; its owner closes it.
func (c *Client) Close() error {
	if !c.ownsCache {
		return nil
	}
	return c.cache.Close()
}

// GetConfig returns the provider's discovery document. A live cached
// document is returned unless forceRefresh is set. Concurrent misses
// for the same URL share a single fetch and observe the same result.
func (c *Client) GetConfig(ctx context.Context, forceRefresh bool) (*Document, error) {
	if !forceRefresh {
		if doc := c.fromCache(ctx); doc != nil {
			c.metrics.RecordFetch("cache_hit")
			return doc, nil
		}
	}

	v, err, _ := c.group.Do(c.discoveryURL, func() (any, error) {
		// The flight is detached from the installing caller's context:
		// a caller that abandons its request must not cancel the shared
		// fetch out from under the other waiters.
		return c.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}

	return v.(*Document), nil
}

func (c *Client) fromCache(ctx context.Context) *Document {
	raw, err := c.cache.Get(ctx, c.discoveryURL)
	if err != nil {
		return nil
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// A corrupt cache entry is treated as a miss.
		_ = c.cache.Delete(ctx, c.discoveryURL)
		return nil
	}

	return &doc
}

// fetch retrieves, validates, and caches the discovery document. The
// cache is only written after validation succeeds.
func (c *Client) fetch(ctx context.Context) (*Document, error) {
	start := time.Now()

	body, err := c.getter.Get(ctx, c.discoveryURL)
	if err != nil {
		c.metrics.RecordFetch("error")
		return nil, oidcerr.Wrap(oidcerr.CodeDiscoveryError, "fetching discovery document", err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		c.metrics.RecordFetch("error")
		return nil, oidcerr.Wrap(oidcerr.CodeDiscoveryError, "parsing discovery document", err)
	}

	if err := doc.validate(); err != nil {
		c.metrics.RecordFetch("error")
		return nil, err
	}

	encoded, err := json.Marshal(&doc)
	if err != nil {
		c.metrics.RecordFetch("error")
		return nil, oidcerr.Wrap(oidcerr.CodeDiscoveryError, "encoding discovery document", err)
	}
	if err := c.cache.Set(ctx, c.discoveryURL, encoded, c.ttl); err != nil {
		c.logger.Warn("failed to cache discovery document", observability.Error(err))
	}

	c.metrics.RecordFetch("success")
	c.logger.Debug("discovery document fetched",
		observability.String("issuer", doc.Issuer),
		observability.Duration("duration", time.Since(start)))

	return &doc, nil
}

// validate checks the fields the token-trust pipeline depends on.
func (d *Document) validate() error {
	if d.Issuer == "" {
		return oidcerr.New(oidcerr.CodeInvalidDiscoveryConfig, "discovery document missing issuer")
	}
	if d.JWKSURI == "" {
		return oidcerr.New(oidcerr.CodeInvalidDiscoveryConfig, "discovery document missing jwks_uri")
	}
	return nil
}
