// Package postgres implements the authorization stores on PostgreSQL,
// the production backend, with an optional Redis read-through cache for
// access-token lookups.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id            TEXT PRIMARY KEY,
	secret_hash   TEXT NOT NULL DEFAULT '',
	redirect_uris TEXT NOT NULL DEFAULT '',
	grant_types   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS access_tokens (
	token         TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_access_tokens_expires ON access_tokens(expires_at);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	scope      TEXT NOT NULL DEFAULT '',
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS authorization_codes (
	code         TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	redirect_uri TEXT NOT NULL DEFAULT '',
	scope        TEXT NOT NULL DEFAULT '',
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_authorization_codes_expires ON authorization_codes(expires_at);
`

// uniqueViolation is the PostgreSQL error code for unique_violation
const uniqueViolation = "23505"

// Store implements auth.Store on PostgreSQL
type Store struct {
	db        *sql.DB
	generator *auth.TokenGenerator
}

// New connects to PostgreSQL using cfg.PostgresURL and bootstraps the schema
func New(cfg storage.Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.PostgresMaxConns)
	db.SetMaxIdleConns(cfg.PostgresMinConns)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, generator: auth.NewTokenGenerator()}, nil
}

// NewFromDB wraps an existing handle, used by tests
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, generator: auth.NewTokenGenerator()}
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var perr *pq.Error
	return errors.As(err, &perr) && string(perr.Code) == uniqueViolation
}

// SaveAccessToken assigns a generated value and persists the token. A unique
// constraint collision is retried once with a fresh value.
func (s *Store) SaveAccessToken(ctx context.Context, token *auth.AccessToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	for attempt := 0; attempt < 2; attempt++ {
		value, err := s.generator.AccessTokenValue()
		if err != nil {
			return err
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO access_tokens (token, client_id, user_id, scope, refresh_token, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			value, token.ClientID, token.UserID, auth.JoinScope(token.Scope),
			token.RefreshToken, token.ExpiresAt, token.CreatedAt,
		)
		if err == nil {
			token.Token = value
			return nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			continue
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("access token value collided twice: %w", auth.ErrDuplicateValue)
		}
		return fmt.Errorf("failed to save access token: %w", err)
	}
	return auth.ErrDuplicateValue
}

// GetAccessToken returns the live token, or (nil, nil) when absent or expired
func (s *Store) GetAccessToken(ctx context.Context, value string) (*auth.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, user_id, scope, refresh_token, expires_at, created_at
		FROM access_tokens WHERE token = $1 AND expires_at > now()`,
		value,
	)

	var token auth.AccessToken
	var scope string
	err := row.Scan(&token.Token, &token.ClientID, &token.UserID, &scope,
		&token.RefreshToken, &token.ExpiresAt, &token.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	token.Scope = auth.ParseScope(scope)
	return &token, nil
}

// DeleteAccessToken removes the token; idempotent
func (s *Store) DeleteAccessToken(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = $1`, value); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// SaveRefreshToken assigns a generated value and persists the token
func (s *Store) SaveRefreshToken(ctx context.Context, token *auth.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	for attempt := 0; attempt < 2; attempt++ {
		value, err := s.generator.RefreshTokenValue()
		if err != nil {
			return err
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO refresh_tokens (token, client_id, user_id, scope, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			value, token.ClientID, token.UserID, auth.JoinScope(token.Scope),
			token.ExpiresAt, token.CreatedAt,
		)
		if err == nil {
			token.Token = value
			return nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			continue
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("refresh token value collided twice: %w", auth.ErrDuplicateValue)
		}
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return auth.ErrDuplicateValue
}

// GetRefreshToken returns the live token, or (nil, nil) when absent or expired
func (s *Store) GetRefreshToken(ctx context.Context, value string) (*auth.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, user_id, scope, expires_at, created_at
		FROM refresh_tokens WHERE token = $1 AND expires_at > now()`,
		value,
	)
	return scanRefreshToken(row)
}

// DeleteRefreshToken removes the token; idempotent
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = $1`, value); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken atomically deletes and returns the token via
// DELETE ... RETURNING, so only one of two concurrent consumers gets it.
func (s *Store) ConsumeRefreshToken(ctx context.Context, value string) (*auth.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM refresh_tokens WHERE token = $1 AND expires_at > now()
		RETURNING token, client_id, user_id, scope, expires_at, created_at`,
		value,
	)
	return scanRefreshToken(row)
}

// SaveAuthorizationCode assigns a generated value and persists the code
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *auth.AuthorizationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}

	for attempt := 0; attempt < 2; attempt++ {
		value, err := s.generator.AuthorizationCodeValue()
		if err != nil {
			return err
		}

		_, err = s.db.ExecContext(ctx, `
			INSERT INTO authorization_codes (code, client_id, user_id, redirect_uri, scope, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			value, code.ClientID, code.UserID, code.RedirectURI, auth.JoinScope(code.Scope),
			code.ExpiresAt, code.CreatedAt,
		)
		if err == nil {
			code.Code = value
			return nil
		}
		if isUniqueViolation(err) && attempt == 0 {
			continue
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("authorization code value collided twice: %w", auth.ErrDuplicateValue)
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}
	return auth.ErrDuplicateValue
}

// GetAuthorizationCode returns the live code, or (nil, nil) when absent or expired
func (s *Store) GetAuthorizationCode(ctx context.Context, value string) (*auth.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT code, client_id, user_id, redirect_uri, scope, expires_at, created_at
		FROM authorization_codes WHERE code = $1 AND expires_at > now()`,
		value,
	)
	return scanAuthorizationCode(row)
}

// DeleteAuthorizationCode removes the code; idempotent
func (s *Store) DeleteAuthorizationCode(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = $1`, value); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode atomically deletes and returns the code, enforcing
// single use before any token is minted.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, value string) (*auth.AuthorizationCode, error) {
	row := s.db.QueryRowContext(ctx, `
		DELETE FROM authorization_codes WHERE code = $1 AND expires_at > now()
		RETURNING code, client_id, user_id, redirect_uri, scope, expires_at, created_at`,
		value,
	)
	return scanAuthorizationCode(row)
}

// DeleteExpired removes all rows past expiry and returns the count removed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	var total int64

	for _, table := range []string{"access_tokens", "refresh_tokens", "authorization_codes"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= now()`)
		if err != nil {
			return total, fmt.Errorf("failed to delete expired rows from %s: %w", table, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += affected
	}

	return total, nil
}

// GetClient returns the registered client, or (nil, nil) when unknown
func (s *Store) GetClient(ctx context.Context, id string) (*auth.Client, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, secret_hash, redirect_uris, grant_types, created_at
		FROM clients WHERE id = $1`, id,
	)

	var client auth.Client
	var uris, grants string
	err := row.Scan(&client.ID, &client.SecretHash, &uris, &grants, &client.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	client.RedirectURIs = auth.ParseScope(uris)
	client.GrantTypes = auth.ParseScope(grants)
	return &client, nil
}

// GetUserByEmail returns the user, or (nil, nil) when unknown
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, enabled, created_at
		FROM users WHERE email = $1`, email,
	)

	var user auth.User
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Enabled, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateClient registers a client through the administrative path
func (s *Store) CreateClient(ctx context.Context, client *auth.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, secret_hash, redirect_uris, grant_types, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		client.ID, client.SecretHash, auth.JoinScope(client.RedirectURIs),
		auth.JoinScope(client.GrantTypes), client.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// CreateUser registers a user through the administrative path
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Email, user.PasswordHash, user.Enabled, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func scanRefreshToken(row *sql.Row) (*auth.RefreshToken, error) {
	var token auth.RefreshToken
	var scope string
	err := row.Scan(&token.Token, &token.ClientID, &token.UserID, &scope,
		&token.ExpiresAt, &token.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	token.Scope = auth.ParseScope(scope)
	return &token, nil
}

func scanAuthorizationCode(row *sql.Row) (*auth.AuthorizationCode, error) {
	var code auth.AuthorizationCode
	var scope string
	err := row.Scan(&code.Code, &code.ClientID, &code.UserID, &code.RedirectURI,
		&scope, &code.ExpiresAt, &code.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	code.Scope = auth.ParseScope(scope)
	return &code, nil
}
