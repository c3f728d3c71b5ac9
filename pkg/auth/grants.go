package auth

import (
	"context"
	"fmt"
)

// Supported grant type names. The registry is open; extension grants can be
// added with Server.RegisterGrant.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantPassword          = "password"
	GrantRefreshToken      = "refresh_token"
)

// TokenRequest carries the parsed body of a token-endpoint request.
// Only the fields relevant to the requested grant type are populated.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code grant
	Code        string
	RedirectURI string

	// password grant
	Username string
	Password string
	Scope    []string

	// refresh_token grant
	RefreshToken string
}

// GrantStrategy produces a token bundle from grant-specific input.
// Implementations return *ProtocolError for protocol failures.
type GrantStrategy interface {
	// GrantType returns the grant_type value the strategy handles
	GrantType() string
	// Grant validates the request and mints a token bundle
	Grant(ctx context.Context, req *TokenRequest) (*TokenBundle, error)
}

// authorizationCodeGrant exchanges a single-use authorization code for tokens
type authorizationCodeGrant struct {
	srv *Server
}

func (g *authorizationCodeGrant) GrantType() string { return GrantAuthorizationCode }

func (g *authorizationCodeGrant) Grant(ctx context.Context, req *TokenRequest) (*TokenBundle, error) {
	client, err := g.srv.validator.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(GrantAuthorizationCode) {
		return nil, NewProtocolError(KindInvalidClient, "grant type not allowed for this client")
	}

	code, err := g.srv.tokens.GetAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("authorization code lookup failed: %w", err)
	}
	if code == nil {
		return nil, NewProtocolError(KindInvalidGrant, "authorization code is invalid or expired")
	}
	if code.ClientID != client.ID {
		return nil, NewProtocolError(KindInvalidGrant, "authorization code was issued to another client")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, NewProtocolError(KindRedirectMismatch, "redirect_uri does not match the authorization request")
	}

	// Consume before minting: only the request that performs the successful
	// delete proceeds, so a replayed or raced exchange fails here.
	consumed, err := g.srv.tokens.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("authorization code consume failed: %w", err)
	}
	if consumed == nil {
		return nil, NewProtocolError(KindInvalidGrant, "authorization code has already been used")
	}

	return g.srv.mintBundle(ctx, consumed.ClientID, consumed.UserID, consumed.Scope, true)
}

// passwordGrant exchanges resource-owner credentials for tokens
type passwordGrant struct {
	srv *Server
}

func (g *passwordGrant) GrantType() string { return GrantPassword }

func (g *passwordGrant) Grant(ctx context.Context, req *TokenRequest) (*TokenBundle, error) {
	client, err := g.srv.validator.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(GrantPassword) {
		return nil, NewProtocolError(KindInvalidClient, "grant type not allowed for this client")
	}

	user, err := g.srv.validator.AuthenticateUser(ctx, req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	return g.srv.mintBundle(ctx, client.ID, user.ID, req.Scope, true)
}

// refreshTokenGrant trades a single-use refresh token for a fresh bundle
type refreshTokenGrant struct {
	srv *Server
}

func (g *refreshTokenGrant) GrantType() string { return GrantRefreshToken }

func (g *refreshTokenGrant) Grant(ctx context.Context, req *TokenRequest) (*TokenBundle, error) {
	client, err := g.srv.validator.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !client.AllowsGrantType(GrantRefreshToken) {
		return nil, NewProtocolError(KindInvalidClient, "grant type not allowed for this client")
	}

	existing, err := g.srv.tokens.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token lookup failed: %w", err)
	}
	if existing == nil {
		return nil, NewProtocolError(KindInvalidGrant, "refresh token is invalid or expired")
	}
	if existing.ClientID != client.ID {
		return nil, NewProtocolError(KindInvalidGrant, "refresh token was issued to another client")
	}

	consumed, err := g.srv.tokens.ConsumeRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token consume failed: %w", err)
	}
	if consumed == nil {
		return nil, NewProtocolError(KindInvalidGrant, "refresh token has already been used")
	}

	// The replacement bundle keeps the consumed token's user and scope
	return g.srv.mintBundle(ctx, consumed.ClientID, consumed.UserID, consumed.Scope, true)
}
