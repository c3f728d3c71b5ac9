// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/quillsec/oauthd/pkg/contextkeys"
//   ctx = contextkeys.WithPrincipal(ctx, principal)
//   principal := ctx.Value(contextkeys.PrincipalKey).(*auth.Principal)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *auth.Principal
	// Set by: middleware.Gate (pkg/middleware/auth.go) after bearer-token resolution
	// Required by: protected endpoint handlers (authorize, logout)
	// Type: *auth.Principal
	PrincipalKey Key = "principal"

	// BearerTokenKey contains the raw bearer token presented on the request
	// Set by: middleware.Gate alongside the principal
	// Used by: the logout handler to revoke the presenting session
	// Type: string
	BearerTokenKey Key = "bearer_token"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// Helper functions for type-safe context operations

// WithPrincipal adds a resolved principal to the context
func WithPrincipal(ctx context.Context, principal interface{}) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// WithBearerToken records the raw bearer token that resolved the principal
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, BearerTokenKey, token)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// BearerTokenFrom retrieves the raw bearer token from the context
func BearerTokenFrom(ctx context.Context) string {
	if token, ok := ctx.Value(BearerTokenKey).(string); ok {
		return token
	}
	return ""
}

// RequestIDFrom retrieves the request ID from the context
func RequestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}
