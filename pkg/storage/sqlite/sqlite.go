// Package sqlite implements the authorization stores on SQLite for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS clients (
	id            TEXT PRIMARY KEY,
	secret_hash   TEXT NOT NULL DEFAULT '',
	redirect_uris TEXT NOT NULL DEFAULT '',
	grant_types   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	enabled       INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS access_tokens (
	token         TEXT PRIMARY KEY,
	client_id     TEXT NOT NULL,
	user_id       TEXT NOT NULL DEFAULT '',
	scope         TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	expires_at    INTEGER NOT NULL,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_access_tokens_expires ON access_tokens(expires_at);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	user_id    TEXT NOT NULL DEFAULT '',
	scope      TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at);

CREATE TABLE IF NOT EXISTS authorization_codes (
	code         TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	user_id      TEXT NOT NULL DEFAULT '',
	redirect_uri TEXT NOT NULL DEFAULT '',
	scope        TEXT NOT NULL DEFAULT '',
	expires_at   INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_authorization_codes_expires ON authorization_codes(expires_at);
`

// Store implements auth.Store on SQLite. Timestamps are stored as integer
// unix nanoseconds so expiry comparisons are exact.
type Store struct {
	db        *sql.DB
	generator *auth.TokenGenerator
}

// New opens (or creates) the database at cfg.SQLitePath
func New(cfg storage.Config) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_fk=1", cfg.SQLitePath)
	return open(dsn, 0)
}

// NewInMemory opens a private in-memory database, used by tests
func NewInMemory() (*Store, error) {
	// A single connection keeps every statement on the same in-memory DB
	return open("file::memory:?_fk=1", 1)
}

func open(dsn string, maxConns int) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, generator: auth.NewTokenGenerator()}, nil
}

// DB exposes the underlying handle for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
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
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			value, token.ClientID, token.UserID, auth.JoinScope(token.Scope),
			token.RefreshToken, token.ExpiresAt.UnixNano(), token.CreatedAt.UnixNano(),
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

// GetAccessToken returns the live token for value, or (nil, nil) when the
// row is absent or expired.
func (s *Store) GetAccessToken(ctx context.Context, value string) (*auth.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, client_id, user_id, scope, refresh_token, expires_at, created_at
		FROM access_tokens WHERE token = ? AND expires_at > ?`,
		value, time.Now().UnixNano(),
	)

	var token auth.AccessToken
	var scope string
	var expiresAt, createdAt int64
	err := row.Scan(&token.Token, &token.ClientID, &token.UserID, &scope, &token.RefreshToken, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	token.Scope = auth.ParseScope(scope)
	token.ExpiresAt = time.Unix(0, expiresAt)
	token.CreatedAt = time.Unix(0, createdAt)
	return &token, nil
}

// DeleteAccessToken removes the token; deleting an absent token is a no-op
func (s *Store) DeleteAccessToken(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = ?`, value); err != nil {
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
			VALUES (?, ?, ?, ?, ?, ?)`,
			value, token.ClientID, token.UserID, auth.JoinScope(token.Scope),
			token.ExpiresAt.UnixNano(), token.CreatedAt.UnixNano(),
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
		FROM refresh_tokens WHERE token = ? AND expires_at > ?`,
		value, time.Now().UnixNano(),
	)
	return scanRefreshToken(row)
}

// DeleteRefreshToken removes the token; idempotent
func (s *Store) DeleteRefreshToken(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token = ?`, value); err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

// ConsumeRefreshToken atomically deletes and returns the token. Of two
// concurrent consumers, only the one whose delete removed the row gets it.
func (s *Store) ConsumeRefreshToken(ctx context.Context, value string) (*auth.RefreshToken, error) {
	token, err := s.GetRefreshToken(ctx, value)
	if err != nil || token == nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE token = ? AND expires_at > ?`,
		value, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if affected == 0 {
		// Lost the race to a concurrent consumer
		return nil, nil
	}
	return token, nil
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
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			value, code.ClientID, code.UserID, code.RedirectURI, auth.JoinScope(code.Scope),
			code.ExpiresAt.UnixNano(), code.CreatedAt.UnixNano(),
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
		FROM authorization_codes WHERE code = ? AND expires_at > ?`,
		value, time.Now().UnixNano(),
	)
	return scanAuthorizationCode(row)
}

// DeleteAuthorizationCode removes the code; idempotent
func (s *Store) DeleteAuthorizationCode(ctx context.Context, value string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM authorization_codes WHERE code = ?`, value); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode atomically deletes and returns the code, enforcing
// single use: the delete happens before any token is minted, and only the
// request whose delete removed the row proceeds.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, value string) (*auth.AuthorizationCode, error) {
	code, err := s.GetAuthorizationCode(ctx, value)
	if err != nil || code == nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM authorization_codes WHERE code = ? AND expires_at > ?`,
		value, time.Now().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return code, nil
}

// DeleteExpired removes all rows past expiry and returns the count removed
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UnixNano()
	var total int64

	for _, table := range []string{"access_tokens", "refresh_tokens", "authorization_codes"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, now)
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
		FROM clients WHERE id = ?`, id,
	)

	var client auth.Client
	var uris, grants string
	var createdAt int64
	err := row.Scan(&client.ID, &client.SecretHash, &uris, &grants, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	client.RedirectURIs = auth.ParseScope(uris)
	client.GrantTypes = auth.ParseScope(grants)
	client.CreatedAt = time.Unix(0, createdAt)
	return &client, nil
}

// GetUserByEmail returns the user, or (nil, nil) when unknown
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, enabled, created_at
		FROM users WHERE email = ?`, email,
	)

	var user auth.User
	var createdAt int64
	err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Enabled, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.CreatedAt = time.Unix(0, createdAt)
	return &user, nil
}

// CreateClient registers a client. Client registration happens through an
// administrative process, not the OAuth endpoints.
func (s *Store) CreateClient(ctx context.Context, client *auth.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, secret_hash, redirect_uris, grant_types, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		client.ID, client.SecretHash, auth.JoinScope(client.RedirectURIs),
		auth.JoinScope(client.GrantTypes), client.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// CreateUser registers a user, same administrative path as CreateClient
func (s *Store) CreateUser(ctx context.Context, user *auth.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.PasswordHash, user.Enabled, user.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func scanRefreshToken(row *sql.Row) (*auth.RefreshToken, error) {
	var token auth.RefreshToken
	var scope string
	var expiresAt, createdAt int64
	err := row.Scan(&token.Token, &token.ClientID, &token.UserID, &scope, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	token.Scope = auth.ParseScope(scope)
	token.ExpiresAt = time.Unix(0, expiresAt)
	token.CreatedAt = time.Unix(0, createdAt)
	return &token, nil
}

func scanAuthorizationCode(row *sql.Row) (*auth.AuthorizationCode, error) {
	var code auth.AuthorizationCode
	var scope string
	var expiresAt, createdAt int64
	err := row.Scan(&code.Code, &code.ClientID, &code.UserID, &code.RedirectURI, &scope, &expiresAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}

	code.Scope = auth.ParseScope(scope)
	code.ExpiresAt = time.Unix(0, expiresAt)
	code.CreatedAt = time.Unix(0, createdAt)
	return &code, nil
}
