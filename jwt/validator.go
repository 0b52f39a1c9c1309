package jwt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/vyrodovalexey/oidcrp/jwks"
	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// header is the decoded JWT header.
type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// ValidatedClaims is the trusted outcome of a successful validation:
// the parsed registered claims plus the full payload as transmitted.
type ValidatedClaims struct {
	Registered RegisteredClaims
	Raw        map[string]any
}

// KeyResolver resolves a signing key by its key ID.
type KeyResolver interface {
	GetKey(ctx context.Context, kid string) (*jwks.Key, error)
}

// Validator validates compact JWTs end to end: parse, key lookup, key
// conversion, signature verification, claims validation. It holds no
// per-token state and is safe for concurrent use.
type Validator struct {
	keys        KeyResolver
	issuer      string
	audience    string
	allowedAlgs []string
	skew        time.Duration
	logger      observability.Logger
	metrics     *Metrics
	now         func() time.Time
}

// ValidatorOption is a functional option for the Validator.
type ValidatorOption func(*Validator)

// WithAllowedAlgs sets the signature algorithm allow-list.
func WithAllowedAlgs(algs ...string) ValidatorOption {
	return func(v *Validator) {
		if len(algs) > 0 {
			v.allowedAlgs = algs
		}
	}
}

// WithClockSkew sets the clock-skew tolerance for expiry and
// not-before checks.
func WithClockSkew(skew time.Duration) ValidatorOption {
	return func(v *Validator) {
		if skew >= 0 {
			v.skew = skew
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithMetrics sets the metrics.
func WithMetrics(m *Metrics) ValidatorOption {
	return func(v *Validator) {
		if m != nil {
			v.metrics = m
		}
	}
}

// withClock overrides the time source. Tests only.
func withClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.now = now
	}
}

// NewValidator creates a validator that trusts tokens issued by the
// given issuer for the given audience, resolving signing keys through
// keys.
func NewValidator(keys KeyResolver, issuer, audience string, opts ...ValidatorOption) *Validator {
	v := &Validator{
		keys:        keys,
		issuer:      issuer,
		audience:    audience,
		allowedAlgs: []string{"RS256"},
		skew:        time.Minute,
		logger:      observability.NopLogger(),
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.metrics == nil {
		v.metrics = GetMetrics()
	}

	return v
}

// Validate parses and validates a compact JWT. The signature is
// established before any claim is trusted; claims checks run last.
// On success the payload is returned unchanged.
func (v *Validator) Validate(ctx context.Context, token string) (*ValidatedClaims, error) {
	start := v.now()

	claims, err := v.validate(ctx, token)
	if err != nil {
		v.metrics.RecordValidation("failure", v.now().Sub(start))
		v.logger.Debug("token validation failed",
			observability.String("code", string(oidcerr.CodeOf(err))),
			observability.Error(err))
		return nil, err
	}

	v.metrics.RecordValidation("success", v.now().Sub(start))
	return claims, nil
}

func (v *Validator) validate(ctx context.Context, token string) (*ValidatedClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, oidcerr.Newf(oidcerr.CodeJWTMalformed, "token has %d segments, want 3", len(parts))
	}

	headerBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "decoding token header", err)
	}
	var hdr header
	if err := json.Unmarshal(headerBytes, &hdr); err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "parsing token header", err)
	}
	if hdr.Kid == "" {
		return nil, oidcerr.New(oidcerr.CodeJWTMalformed, "token header has no kid")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "decoding token payload", err)
	}
	var registered RegisteredClaims
	if err := json.Unmarshal(payloadBytes, &registered); err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "parsing token payload", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(payloadBytes, &raw); err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "parsing token payload", err)
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTMalformed, "decoding token signature", err)
	}

	key, err := v.keys.GetKey(ctx, hdr.Kid)
	if err != nil {
		return nil, err
	}

	publicKeyPEM, err := key.ToPEM()
	if err != nil {
		return nil, err
	}

	// The signing input is the header and payload segments exactly as
	// transmitted, never re-encoded.
	signingInput := []byte(parts[0] + "." + parts[1])
	if err := Verify(signingInput, signature, hdr.Alg, publicKeyPEM, v.allowedAlgs); err != nil {
		return nil, err
	}

	if err := ValidateClaims(&registered, v.issuer, v.audience, v.skew, v.now()); err != nil {
		return nil, err
	}

	return &ValidatedClaims{Registered: registered, Raw: raw}, nil
}
