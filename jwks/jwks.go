// Package jwks retrieves, caches, and resolves a provider's JSON Web
// Key Set. Concurrent refreshes coalesce into a single fetch, and a
// key lookup that misses a live cache forces at most one refresh
// before failing, tolerating provider key rotation without retry
// storms.
package jwks

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/oidcrp/cache"
	"github.com/vyrodovalexey/oidcrp/discovery"
	"github.com/vyrodovalexey/oidcrp/httpx"
	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// Key is a single JSON Web Key. Its fields are untrusted input until
// converted through ToPublicKey or ToPEM.
type Key struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`

	// RSA parameters.
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC parameters.
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// Set is an ordered JSON Web Key Set. Lookup by kid returns the first
// match; kid uniqueness across rotations is not guaranteed.
type Set struct {
	Keys []Key `json:"keys"`
}

// Lookup returns the first key with the given kid.
func (s *Set) Lookup(kid string) (*Key, bool) {
	for i := range s.Keys {
		if s.Keys[i].Kid == kid {
			return &s.Keys[i], true
		}
	}
	return nil, false
}

// URIResolver yields the JWKS endpoint URL, possibly via a network
// round trip.
type URIResolver func(ctx context.Context) (string, error)

// Client fetches and caches a provider's key set.
type Client struct {
	resolveURI URIResolver
	cacheKey   string
	getter     httpx.Getter
	cache      cache.Cache
	ownsCache  bool
	ttl        time.Duration
	logger     observability.Logger
	metrics    *Metrics
	group      singleflight.Group
	limiter    *rate.Limiter
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

// WithTTL sets the cache TTL for fetched key sets.
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

// WithRefreshLimit caps how often a kid miss on a live cached set may
// force a network refresh. Cold fetches are never limited.
func WithRefreshLimit(limiter *rate.Limiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// NewClient creates a JWKS client for a fixed JWKS endpoint URL.
func NewClient(jwksURI string, opts ...Option) (*Client, error) {
	if jwksURI == "" {
		return nil, oidcerr.New(oidcerr.CodeInvalidJWKSURI, "JWKS URI must not be empty")
	}
	return newClient(jwksURI, func(context.Context) (string, error) {
		return jwksURI, nil
	}, opts...), nil
}

// NewClientFromDiscovery creates a JWKS client that resolves its
// endpoint from the provider's discovery document on each refresh.
func NewClientFromDiscovery(dc *discovery.Client, opts ...Option) (*Client, error) {
	if dc == nil {
		return nil, oidcerr.New(oidcerr.CodeInvalidJWKSURI, "discovery client must not be nil")
	}
	return newClient("jwks:"+dc.URL(), func(ctx context.Context) (string, error) {
		doc, err := dc.GetConfig(ctx, false)
		if err != nil {
			return "", err
		}
		return doc.JWKSURI, nil
	}, opts...), nil
}

func newClient(cacheKey string, resolve URIResolver, opts ...Option) *Client {
	c := &Client{
		resolveURI: resolve,
		cacheKey:   cacheKey,
		ttl:        time.Hour,
		logger:     observability.NopLogger(),
		limiter:    rate.NewLimiter(rate.Every(10*time.Second), 5),
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

	return c
}

// Close releases the internally owned cache and its cleanup goroutine.
// A cache injected through WithCache stays open; its owner closes it.
func (c *Client) Close() error {
	if !c.ownsCache {
		return nil
	}
	return c.cache.Close()
}

// GetKey resolves a signing key by its key ID. A kid absent from the
// cached set forces at most one refresh before failing, so a
// persistently missing kid cannot cause a refresh storm.
func (c *Client) GetKey(ctx context.Context, kid string) (*Key, error) {
	if kid == "" {
		return nil, oidcerr.New(oidcerr.CodeInvalidKID, "kid must not be empty")
	}

	set, cached := c.fromCache(ctx)
	if cached {
		if key, ok := set.Lookup(kid); ok {
			c.metrics.RecordLookup("hit")
			return key, nil
		}
		// The cached set is live but does not carry this kid. Either
		// the provider rotated keys after the snapshot, or the kid is
		// simply invalid. One refresh decides which.
		if !c.limiter.Allow() {
			c.metrics.RecordLookup("throttled")
			return nil, oidcerr.Newf(oidcerr.CodeJWKSKeyNotFound, "key %q not found in cached key set", kid)
		}
	}

	set, err := c.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	if key, ok := set.Lookup(kid); ok {
		c.metrics.RecordLookup("refresh_hit")
		return key, nil
	}

	c.metrics.RecordLookup("miss")
	return nil, oidcerr.Newf(oidcerr.CodeJWKSKeyNotFound, "key %q not found in key set", kid)
}

// Refresh fetches the key set and overwrites the cache wholesale.
// Concurrent callers share a single in-flight fetch; the in-flight
// slot clears on both success and failure so a later call can retry.
func (c *Client) Refresh(ctx context.Context) (*Set, error) {
	v, err, _ := c.group.Do(c.cacheKey, func() (any, error) {
		// The flight is detached from the installing caller's context:
		// a caller that abandons its request must not cancel the shared
		// fetch out from under the other waiters.
		return c.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	return v.(*Set), nil
}

func (c *Client) fromCache(ctx context.Context) (*Set, bool) {
	raw, err := c.cache.Get(ctx, c.cacheKey)
	if err != nil {
		return nil, false
	}

	var set Set
	if err := json.Unmarshal(raw, &set); err != nil {
		_ = c.cache.Delete(ctx, c.cacheKey)
		return nil, false
	}

	return &set, true
}

func (c *Client) fetch(ctx context.Context) (*Set, error) {
	start := time.Now()

	uri, err := c.resolveURI(ctx)
	if err != nil {
		c.metrics.RecordRefresh("error")
		return nil, oidcerr.Wrap(oidcerr.CodeJWKSFetchError, "resolving JWKS URI", err)
	}

	body, err := c.getter.Get(ctx, uri)
	if err != nil {
		c.metrics.RecordRefresh("error")
		return nil, oidcerr.Wrap(oidcerr.CodeJWKSFetchError, "fetching JWKS", err)
	}

	set, err := parseSet(body)
	if err != nil {
		c.metrics.RecordRefresh("error")
		return nil, err
	}

	encoded, err := json.Marshal(set)
	if err != nil {
		c.metrics.RecordRefresh("error")
		return nil, oidcerr.Wrap(oidcerr.CodeJWKSParseError, "encoding key set", err)
	}
	if err := c.cache.Set(ctx, c.cacheKey, encoded, c.ttl); err != nil {
		c.logger.Warn("failed to cache key set", observability.Error(err))
	}

	c.metrics.RecordRefresh("success")
	c.logger.Debug("key set refreshed",
		observability.Int("keys", len(set.Keys)),
		observability.Duration("duration", time.Since(start)))

	return set, nil
}

// parseSet validates the wire shape before any key is trusted: the
// body must be a JSON object whose keys member is an array.
func parseSet(body []byte) (*Set, error) {
	var raw struct {
		Keys json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWKSParseError, "parsing JWKS response", err)
	}
	if raw.Keys == nil {
		return nil, oidcerr.New(oidcerr.CodeJWKSInvalid, "JWKS response missing keys")
	}

	var keys []Key
	if err := json.Unmarshal(raw.Keys, &keys); err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWKSInvalid, "JWKS keys is not an array of keys", err)
	}

	return &Set{Keys: keys}, nil
}
