package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the looked-up record does not exist, so
// the unknown-identifier and wrong-secret paths cost the same.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// Validator verifies client identifiers/secrets and user credentials against
// persisted records.
type Validator struct {
	clients ClientStore
	users   UserStore
}

// NewValidator creates a validator over the given client and user stores
func NewValidator(clients ClientStore, users UserStore) *Validator {
	return &Validator{clients: clients, users: users}
}

// AuthenticateClient verifies the client exists and, when the client is
// confidential, that the presented secret matches. It returns KindInvalidClient
// on any mismatch.
func (v *Validator) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*Client, error) {
	if clientID == "" {
		return nil, NewProtocolError(KindInvalidClient, "client_id is required")
	}

	client, err := v.clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}
	if client == nil {
		// Burn a comparison so unknown clients cost the same as bad secrets
		bcrypt.CompareHashAndPassword(dummyHash, []byte(clientSecret))
		return nil, NewProtocolError(KindInvalidClient, "client authentication failed")
	}

	if client.IsConfidential() {
		if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(clientSecret)); err != nil {
			return nil, NewProtocolError(KindInvalidClient, "client authentication failed")
		}
	}

	return client, nil
}

// AuthenticateUser verifies resource-owner credentials. The error never
// distinguishes an unknown user from a wrong password.
func (v *Validator) AuthenticateUser(ctx context.Context, email, password string) (*User, error) {
	invalid := NewProtocolError(KindInvalidGrant, "invalid resource owner credentials")

	user, err := v.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("user lookup failed: %w", err)
	}
	if user == nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, invalid
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, invalid
	}
	if !user.Enabled {
		return nil, invalid
	}

	return user, nil
}

// HashSecret hashes a client secret or user password for storage
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}
