// Package oidcerr defines the structured error type shared by every
// component of the relying-party toolkit.
package oidcerr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure code.
type Code string

// Failure codes surfaced by the toolkit.
const (
	CodeInvalidDiscoveryURL    Code = "INVALID_DISCOVERY_URL"
	CodeDiscoveryError         Code = "DISCOVERY_ERROR"
	CodeInvalidDiscoveryConfig Code = "INVALID_DISCOVERY_CONFIG"
	CodeInvalidJWKSURI         Code = "INVALID_JWKS_URI"
	CodeJWKSFetchError         Code = "JWKS_FETCH_ERROR"
	CodeJWKSParseError         Code = "JWKS_PARSE_ERROR"
	CodeJWKSInvalid            Code = "JWKS_INVALID"
	CodeInvalidKID             Code = "INVALID_KID"
	CodeJWKSKeyNotFound        Code = "JWKS_KEY_NOT_FOUND"
	CodeInvalidKeyMaterial     Code = "INVALID_KEY_MATERIAL"
	CodeUnsupportedKeyType     Code = "UNSUPPORTED_KEY_TYPE"
	CodeJWTMalformed           Code = "JWT_MALFORMED"
	CodeJWTSignatureInvalid    Code = "JWT_SIGNATURE_INVALID"
	CodeInvalidIssuer          Code = "INVALID_ISSUER"
	CodeInvalidAudience        Code = "INVALID_AUDIENCE"
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeTokenNotYetValid       Code = "TOKEN_NOT_YET_VALID"
)

// Error is a failure with a code, a human-readable message, and an
// optional wrapped cause. Validation either fully succeeds or fails
// with exactly one of these; no partial results are ever produced.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var oe *Error
	if errors.As(target, &oe) {
		return e.Code == oe.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause. If the cause already carries
// a code it is returned unchanged: lower layers pass recognized errors
// through and only wrap foreign (transport, parse) failures.
func Wrap(code Code, message string, cause error) error {
	var oe *Error
	if errors.As(cause, &oe) {
		return cause
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code carried by err, or the empty Code when err is
// not an *Error.
func CodeOf(err error) Code {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
