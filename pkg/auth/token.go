package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// AccessTokenPrefix identifies access token values
	AccessTokenPrefix = "oat_"
	// RefreshTokenPrefix identifies refresh token values
	RefreshTokenPrefix = "ort_"
	// AuthorizationCodePrefix identifies authorization code values
	AuthorizationCodePrefix = "oac_"

	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
)

// TokenGenerator generates and validates opaque token values
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// generate creates a new token value with the given prefix
// Format: <prefix><base64url(32 random bytes)>
// Example: oat_abc123def456...
func (tg *TokenGenerator) generate(prefix string) (string, error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	// Encode to base64url (URL-safe, no padding)
	return prefix + base64.RawURLEncoding.EncodeToString(randomBytes), nil
}

// AccessTokenValue creates a new access token value
func (tg *TokenGenerator) AccessTokenValue() (string, error) {
	return tg.generate(AccessTokenPrefix)
}

// RefreshTokenValue creates a new refresh token value
func (tg *TokenGenerator) RefreshTokenValue() (string, error) {
	return tg.generate(RefreshTokenPrefix)
}

// AuthorizationCodeValue creates a new authorization code value
func (tg *TokenGenerator) AuthorizationCodeValue() (string, error) {
	return tg.generate(AuthorizationCodePrefix)
}

// ValidateTokenFormat checks if a value has the correct shape for its prefix
func (tg *TokenGenerator) ValidateTokenFormat(value, prefix string) error {
	if !strings.HasPrefix(value, prefix) {
		return fmt.Errorf("token must start with %q", prefix)
	}

	encodedPart := strings.TrimPrefix(value, prefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	// Decode to verify it's valid base64url
	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}

	return nil
}
