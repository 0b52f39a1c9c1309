// Package middleware provides gin middleware for protecting routes
// with provider-issued bearer tokens.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/oidcrp/observability"
	"github.com/vyrodovalexey/oidcrp/oidc"
	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

const (
	// TokenInfoKey is the gin context key holding the validated token
	// info.
	TokenInfoKey = "token_info"
)

// TokenValidator validates a bearer token. oidc.Provider satisfies
// this interface.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*oidc.TokenInfo, error)
}

// AuthConfig configures the bearer-token middleware.
type AuthConfig struct {
	// Validator checks incoming tokens. Required.
	Validator TokenValidator

	// SkipPaths are exact request paths that bypass authentication.
	SkipPaths []string

	// Logger logs rejected requests.
	Logger observability.Logger
}

// BearerAuth returns a middleware that requires a valid bearer token
// on every request outside SkipPaths. Validated token info is stored
// in the gin context under TokenInfoKey.
func BearerAuth(cfg AuthConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		token, ok := extractBearer(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing bearer token",
			})
			return
		}

		info, err := cfg.Validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			code := oidcerr.CodeOf(err)
			logger.Debug("rejected bearer token",
				observability.String("path", c.Request.URL.Path),
				observability.String("code", string(code)))

			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
				"code":  string(code),
			})
			return
		}

		c.Set(TokenInfoKey, info)
		c.Next()
	}
}

// TokenInfoFrom returns the validated token info stored by BearerAuth.
func TokenInfoFrom(c *gin.Context) (*oidc.TokenInfo, bool) {
	v, ok := c.Get(TokenInfoKey)
	if !ok {
		return nil, false
	}
	info, ok := v.(*oidc.TokenInfo)
	return info, ok
}

func extractBearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}

	const prefix = "bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
