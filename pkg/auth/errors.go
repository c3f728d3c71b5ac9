package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the machine-readable OAuth2 error code surfaced to callers
type ErrorKind string

const (
	// KindInvalidClient: client unknown or secret mismatch
	KindInvalidClient ErrorKind = "invalid_client"
	// KindInvalidGrant: code/credentials/refresh token invalid, expired, or already consumed
	KindInvalidGrant ErrorKind = "invalid_grant"
	// KindRedirectMismatch: redirect URI does not match the one used at authorize time
	KindRedirectMismatch ErrorKind = "redirect_uri_mismatch"
	// KindUnsupportedGrantType: no strategy registered for the requested grant
	KindUnsupportedGrantType ErrorKind = "unsupported_grant_type"
	// KindInvalidRedirectURI: authorize request redirect URI not registered for the client
	KindInvalidRedirectURI ErrorKind = "invalid_redirect_uri"
	// KindUnsupportedResponseType: authorize request response type is not "code" or "token"
	KindUnsupportedResponseType ErrorKind = "unsupported_response_type"
	// KindUnauthenticated: protected path called without a valid bearer token
	KindUnauthenticated ErrorKind = "unauthenticated"
)

// ProtocolError is a typed OAuth2 protocol failure. Validation failures inside
// grant strategies and the authorization server are always returned as
// *ProtocolError so the HTTP layer can map them to a status code and a stable
// machine-readable body; anything else is treated as an internal failure.
type ProtocolError struct {
	Kind        ErrorKind
	Description string
}

// NewProtocolError creates a protocol error with the given kind and description
func NewProtocolError(kind ErrorKind, description string) *ProtocolError {
	return &ProtocolError{Kind: kind, Description: description}
}

func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// StatusCode returns the HTTP status matching the error kind
func (e *ProtocolError) StatusCode() int {
	switch e.Kind {
	case KindInvalidClient, KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

// AsProtocolError unwraps err into a *ProtocolError if one is in its chain
func AsProtocolError(err error) (*ProtocolError, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}

// ErrDuplicateValue is returned by store implementations when a generated
// token or code value collides with an existing row. Generation entropy makes
// this effectively impossible; stores retry once and then surface it as fatal.
var ErrDuplicateValue = errors.New("duplicate token value")
