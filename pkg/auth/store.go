package auth

import "context"

// TokenStore is durable persistence for access tokens, refresh tokens, and
// authorization codes.
//
// Contract:
//   - Save* assigns a freshly generated unique value to the entity before
//     persisting it. A collision on the storage unique constraint is retried
//     once with a regenerated value; a second collision is a fatal error.
//   - Get* returns (nil, nil) when the row is absent OR past expiry, so
//     callers treat expiry and absence identically. A non-nil error means
//     storage I/O failed.
//   - Delete* is idempotent; deleting an absent row is not an error.
//   - Consume* atomically deletes the row and returns it. Only the single
//     caller whose delete succeeded receives the row; concurrent consumers
//     of the same value receive (nil, nil). Expired rows are never returned.
//   - All writes are synchronous and durable before the call returns.
type TokenStore interface {
	SaveAccessToken(ctx context.Context, token *AccessToken) error
	GetAccessToken(ctx context.Context, value string) (*AccessToken, error)
	DeleteAccessToken(ctx context.Context, value string) error

	SaveRefreshToken(ctx context.Context, token *RefreshToken) error
	GetRefreshToken(ctx context.Context, value string) (*RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, value string) error
	ConsumeRefreshToken(ctx context.Context, value string) (*RefreshToken, error)

	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	GetAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error)
	DeleteAuthorizationCode(ctx context.Context, value string) error
	ConsumeAuthorizationCode(ctx context.Context, value string) (*AuthorizationCode, error)

	// DeleteExpired removes rows whose expiry timestamp has passed and
	// returns the number of rows removed. Used by the cleanup sweeper.
	DeleteExpired(ctx context.Context) (int64, error)
}

// ClientStore looks up registered clients. GetClient returns (nil, nil) for
// unknown client identifiers.
type ClientStore interface {
	GetClient(ctx context.Context, id string) (*Client, error)
}

// UserStore looks up resource owners for the password grant.
// GetUserByEmail returns (nil, nil) for unknown addresses.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// Store is the full persistence surface a storage backend provides
type Store interface {
	TokenStore
	ClientStore
	UserStore
}
