package jwt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// Audience is the aud claim, which the wire format carries as either a
// single string or an array of strings.
type Audience []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("aud must be a string or an array of strings: %w", err)
	}
	*a = Audience(many)

	return nil
}

// Contains reports whether the audience includes the given value.
func (a Audience) Contains(value string) bool {
	for _, v := range a {
		if v == value {
			return true
		}
	}
	return false
}

// NumericDate is a JWT timestamp claim, seconds since the Unix epoch.
type NumericDate struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler. Fractional seconds are
// permitted by RFC 7519 and truncated here.
func (d *NumericDate) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return fmt.Errorf("timestamp claim must be numeric: %w", err)
	}
	d.Time = time.Unix(int64(seconds), 0)
	return nil
}

// RegisteredClaims holds the registered claims of RFC 7519 §4.1.
type RegisteredClaims struct {
	Issuer    string       `json:"iss,omitempty"`
	Subject   string       `json:"sub,omitempty"`
	Audience  Audience     `json:"aud,omitempty"`
	ExpiresAt *NumericDate `json:"exp,omitempty"`
	NotBefore *NumericDate `json:"nbf,omitempty"`
	IssuedAt  *NumericDate `json:"iat,omitempty"`
	ID        string       `json:"jti,omitempty"`
}

// ValidateClaims checks the registered claims against the expected
// issuer and audience with the given clock-skew tolerance. The first
// violated claim is reported with its specific error code.
func ValidateClaims(claims *RegisteredClaims, expectedIssuer, expectedAudience string, skew time.Duration, now time.Time) error {
	if claims.Issuer != expectedIssuer {
		return oidcerr.Newf(oidcerr.CodeInvalidIssuer,
			"issuer %q does not match expected %q", claims.Issuer, expectedIssuer)
	}

	if !claims.Audience.Contains(expectedAudience) {
		return oidcerr.Newf(oidcerr.CodeInvalidAudience,
			"audience %v does not include %q", []string(claims.Audience), expectedAudience)
	}

	if claims.ExpiresAt == nil {
		return oidcerr.New(oidcerr.CodeTokenExpired, "token has no expiry")
	}
	// Validity requires now - skew < exp, so a token whose expiry lies
	// at or before the skew-adjusted instant is rejected.
	if !now.Add(-skew).Before(claims.ExpiresAt.Time) {
		return oidcerr.Newf(oidcerr.CodeTokenExpired,
			"token expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}

	if claims.NotBefore != nil && claims.NotBefore.Time.After(now.Add(skew)) {
		return oidcerr.Newf(oidcerr.CodeTokenNotYetValid,
			"token not valid before %s", claims.NotBefore.Time.UTC().Format(time.RFC3339))
	}

	return nil
}
