package auth

import (
	"strings"
	"time"
)

// Client represents a registered OAuth2 client application.
// Clients are immutable once issued; they are created by an administrative
// process outside this server.
type Client struct {
	ID           string    `json:"id"`
	SecretHash   string    `json:"-"` // bcrypt hash; empty for public clients
	RedirectURIs []string  `json:"redirect_uris"`
	GrantTypes   []string  `json:"grant_types"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsConfidential reports whether the client was issued a secret
func (c *Client) IsConfidential() bool {
	return c.SecretHash != ""
}

// HasRedirectURI reports whether uri is one of the client's registered
// redirect URIs. Comparison is exact; no prefix or wildcard matching.
func (c *Client) HasRedirectURI(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AllowsGrantType reports whether the client may use the given grant type.
// An empty grant-type list allows every registered grant.
func (c *Client) AllowsGrantType(grantType string) bool {
	if len(c.GrantTypes) == 0 {
		return true
	}
	for _, allowed := range c.GrantTypes {
		if allowed == grantType {
			return true
		}
	}
	return false
}

// User represents a resource owner
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccessToken is a bearer credential granting the access rights bound to it.
// The token value is opaque and unguessable; exactly one live row exists per
// issued value until expiry or revocation.
type AccessToken struct {
	Token        string    `json:"token"`
	ClientID     string    `json:"client_id"`
	UserID       string    `json:"user_id,omitempty"` // empty for client-only tokens
	Scope        []string  `json:"scope"`
	RefreshToken string    `json:"refresh_token,omitempty"` // value of the paired refresh token, if any
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// IsExpired reports whether the token is past its expiry timestamp
func (t *AccessToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// RefreshToken is a single-use credential exchanged for a fresh token bundle.
// It is consumed (deleted) and replaced atomically when used.
type RefreshToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"`
	Scope     []string  `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// IsExpired reports whether the token is past its expiry timestamp
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// AuthorizationCode is a short-lived, single-use code minted by the authorize
// step and exchanged exactly once at the token endpoint.
type AuthorizationCode struct {
	Code        string    `json:"code"`
	ClientID    string    `json:"client_id"`
	UserID      string    `json:"user_id"`
	RedirectURI string    `json:"redirect_uri"`
	Scope       []string  `json:"scope"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsExpired reports whether the code is past its expiry timestamp
func (c *AuthorizationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Principal is the resolved identity attached to a request after successful
// bearer-token validation. It is derived per request and never persisted.
type Principal struct {
	UserID   string   `json:"user_id,omitempty"`
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope"`
}

// HasScope reports whether the principal's token carries the given scope
func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scope {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// TokenBundle is the output of a successful grant: an access token and,
// when the grant allows refresh, its paired refresh token.
type TokenBundle struct {
	AccessToken  *AccessToken
	RefreshToken *RefreshToken
}

// ParseScope splits a space-delimited scope string into its identifiers
func ParseScope(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

// JoinScope renders a scope set in its space-delimited wire form
func JoinScope(scope []string) string {
	return strings.Join(scope, " ")
}
