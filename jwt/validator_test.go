package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/oidcrp/jwks"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

const (
	testIssuer   = "https://idp.example/"
	testAudience = "client1"
)

// staticResolver serves keys from a fixed set without touching the
// network.
type staticResolver struct {
	set jwks.Set
}

func (r *staticResolver) GetKey(_ context.Context, kid string) (*jwks.Key, error) {
	if key, ok := r.set.Lookup(kid); ok {
		return key, nil
	}
	return nil, oidcerr.Newf(oidcerr.CodeJWKSKeyNotFound, "key %q not found in key set", kid)
}

func rsaResolver(t *testing.T, priv *rsa.PrivateKey, kid string) *staticResolver {
	t.Helper()

	return &staticResolver{set: jwks.Set{Keys: []jwks.Key{{
		Kid: kid,
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.PublicKey.E)).Bytes()),
	}}}}
}

// buildToken assembles and signs a compact JWT with full control over
// the header, for exercising hostile inputs.
func buildToken(t *testing.T, priv *rsa.PrivateKey, header, claims map[string]any) string {
	t.Helper()

	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	claimsJSON, err := json.Marshal(claims)
	require.NoError(t, err)

	signingInput := base64.RawURLEncoding.EncodeToString(headerJSON) +
		"." + base64.RawURLEncoding.EncodeToString(claimsJSON)
	sig := signRS256(t, priv, []byte(signingInput))

	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func defaultHeader(kid string) map[string]any {
	return map[string]any{"alg": "RS256", "kid": kid, "typ": "JWT"}
}

func defaultClaims(now time.Time) map[string]any {
	return map[string]any{
		"iss": testIssuer,
		"aud": testAudience,
		"exp": now.Add(time.Hour).Unix(),
	}
}

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()
	claims := defaultClaims(now)
	claims["role"] = "admin"
	token := buildToken(t, priv, defaultHeader("k1"), claims)

	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience)

	validated, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, testIssuer, validated.Registered.Issuer)
	assert.True(t, validated.Registered.Audience.Contains(testAudience))

	// The payload comes back unchanged, custom claims included.
	assert.Equal(t, "admin", validated.Raw["role"])
	assert.Equal(t, testIssuer, validated.Raw["iss"])
}

func TestValidator_Validate_Malformed(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience)
	good := buildToken(t, priv, defaultHeader("k1"), defaultClaims(time.Now()))

	headerNoKid := buildToken(t, priv, map[string]any{"alg": "RS256", "typ": "JWT"}, defaultClaims(time.Now()))

	tests := []struct {
		name  string
		token string
	}{
		{"two segments", "aaaa.bbbb"},
		{"four segments", good + ".extra"},
		{"header not base64url", "!!!.payload.sig"},
		{"header not json", base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".payload.sig"},
		{"missing kid", headerNoKid},
		{"signature not base64url", good[:len(good)-5] + "!!!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, vErr := v.Validate(context.Background(), tt.token)
			require.Error(t, vErr)
			assert.Equal(t, oidcerr.CodeJWTMalformed, oidcerr.CodeOf(vErr))
		})
	}
}

func TestValidator_Validate_KeyNotFoundPropagated(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience)
	token := buildToken(t, priv, defaultHeader("unknown"), defaultClaims(time.Now()))

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeJWKSKeyNotFound, oidcerr.CodeOf(err))
}

func TestValidator_Validate_UnsupportedKeyTypePropagated(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	resolver := &staticResolver{set: jwks.Set{Keys: []jwks.Key{{Kid: "k1", Kty: "OKP"}}}}
	v := NewValidator(resolver, testIssuer, testAudience)
	token := buildToken(t, priv, defaultHeader("k1"), defaultClaims(time.Now()))

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeUnsupportedKeyType, oidcerr.CodeOf(err))
}

func TestValidator_Validate_TamperedPayload(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience)
	token := buildToken(t, priv, defaultHeader("k1"), defaultClaims(time.Now()))

	// Swap in a payload the signature never covered.
	forged := defaultClaims(time.Now())
	forged["role"] = "superadmin"
	forgedJSON, err := json.Marshal(forged)
	require.NoError(t, err)

	header, _, sig := splitToken(t, token)
	tampered := header + "." + base64.RawURLEncoding.EncodeToString(forgedJSON) + "." + sig

	_, err = v.Validate(context.Background(), tampered)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeJWTSignatureInvalid, oidcerr.CodeOf(err))
}

func splitToken(t *testing.T, token string) (header, payload, sig string) {
	t.Helper()

	first := -1
	second := -1
	for i, c := range token {
		if c != '.' {
			continue
		}
		if first < 0 {
			first = i
		} else {
			second = i
			break
		}
	}
	require.Positive(t, first)
	require.Positive(t, second)

	return token[:first], token[first+1 : second], token[second+1:]
}

func TestValidator_Validate_AlgNone(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience)
	token := buildToken(t, priv, map[string]any{"alg": "none", "kid": "k1"}, defaultClaims(time.Now()))

	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeJWTSignatureInvalid, oidcerr.CodeOf(err))
}

func TestValidator_Validate_ClaimFailures(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Now()

	tests := []struct {
		name     string
		mutate   func(map[string]any)
		wantCode oidcerr.Code
	}{
		{"wrong issuer", func(c map[string]any) { c["iss"] = "https://evil.example/" }, oidcerr.CodeInvalidIssuer},
		{"wrong audience", func(c map[string]any) { c["aud"] = "someone-else" }, oidcerr.CodeInvalidAudience},
		{"expired", func(c map[string]any) { c["exp"] = now.Add(-time.Hour).Unix() }, oidcerr.CodeTokenExpired},
		{"not yet valid", func(c map[string]any) { c["nbf"] = now.Add(time.Hour).Unix() }, oidcerr.CodeTokenNotYetValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			claims := defaultClaims(now)
			tt.mutate(claims)
			token := buildToken(t, priv, defaultHeader("k1"), claims)

			v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience,
				WithClockSkew(0))

			_, vErr := v.Validate(context.Background(), token)
			require.Error(t, vErr)
			assert.Equal(t, tt.wantCode, oidcerr.CodeOf(vErr))
		})
	}
}

func TestValidator_Validate_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	claims := defaultClaims(now)
	claims["exp"] = now.Add(-time.Second).Unix()
	token := buildToken(t, priv, defaultHeader("k1"), claims)

	// One second past expiry with zero skew fails.
	v := NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience,
		WithClockSkew(0), withClock(func() time.Time { return now }))
	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeTokenExpired, oidcerr.CodeOf(err))

	// The same token is tolerated inside a 5s skew window.
	v = NewValidator(rsaResolver(t, priv, "k1"), testIssuer, testAudience,
		WithClockSkew(5*time.Second), withClock(func() time.Time { return now }))
	_, err = v.Validate(context.Background(), token)
	require.NoError(t, err)

	// Beyond the window the skew no longer helps.
	claims["exp"] = now.Add(-6 * time.Second).Unix()
	token = buildToken(t, priv, defaultHeader("k1"), claims)
	_, err = v.Validate(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, oidcerr.CodeTokenExpired, oidcerr.CodeOf(err))
}

// TestValidator_EndToEnd drives the full pipeline: a JWKS endpoint
// fetched once, a token minted and signed over the matching private
// key, and validation returning the payload unchanged.
func TestValidator_EndToEnd(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privJWK, err := jwk.FromRaw(priv)
	require.NoError(t, err)
	require.NoError(t, privJWK.Set(jwk.KeyIDKey, "k1"))

	pubJWK, err := jwk.FromRaw(&priv.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pubJWK.Set(jwk.KeyIDKey, "k1"))

	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pubJWK))
	jwksBody, err := json.Marshal(set)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(jwksBody)
	}))
	defer srv.Close()

	tok, err := jwxjwt.NewBuilder().
		Issuer(testIssuer).
		Audience([]string{testAudience}).
		Expiration(time.Now().Add(time.Minute)).
		Claim("scope", "openid profile").
		Build()
	require.NoError(t, err)

	signed, err := jwxjwt.Sign(tok, jwxjwt.WithKey(jwa.RS256, privJWK))
	require.NoError(t, err)

	client, err := jwks.NewClient(srv.URL)
	require.NoError(t, err)

	v := NewValidator(client, testIssuer, testAudience)

	validated, err := v.Validate(context.Background(), string(signed))
	require.NoError(t, err)
	assert.Equal(t, testIssuer, validated.Registered.Issuer)
	assert.Equal(t, "openid profile", validated.Raw["scope"])
}
