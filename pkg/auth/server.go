package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/quillsec/oauthd/pkg/observability"
)

// Config holds token lifecycle configuration
type Config struct {
	// AccessTokenLifetime is how long issued access tokens stay valid
	AccessTokenLifetime time.Duration
	// RefreshTokenLifetime is how long issued refresh tokens stay valid
	RefreshTokenLifetime time.Duration
	// AuthorizationCodeLifetime is how long authorization codes stay exchangeable
	AuthorizationCodeLifetime time.Duration
}

// DefaultConfig returns the default token lifetimes
func DefaultConfig() Config {
	return Config{
		AccessTokenLifetime:       1 * time.Hour,
		RefreshTokenLifetime:      14 * 24 * time.Hour,
		AuthorizationCodeLifetime: 5 * time.Minute,
	}
}

// AuthorizeRequest carries the parameters of an authorize-endpoint request.
// Principal is the already-authenticated resource owner granting consent;
// an unauthenticated caller must pass the request gate first.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        []string
	State        string
	Principal    *Principal
}

// AuthorizeResult is the outcome of a successful authorize call: either an
// authorization code (response_type=code) or an access token minted directly
// (response_type=token, the implicit flow).
type AuthorizeResult struct {
	Code  *AuthorizationCode
	Token *AccessToken
	State string
}

// Server is the authorization-and-token state machine. It orchestrates grant
// strategies, credential validation, and the token store; it never caches
// token state beyond a single request.
type Server struct {
	tokens    TokenStore
	clients   ClientStore
	validator *Validator
	grants    map[string]GrantStrategy
	config    Config
	logger    *observability.Logger
}

// NewServer creates an authorization server with the default grant strategies
// (authorization_code, password, refresh_token) registered.
func NewServer(tokens TokenStore, clients ClientStore, users UserStore, config Config, logger *observability.Logger) *Server {
	s := &Server{
		tokens:    tokens,
		clients:   clients,
		validator: NewValidator(clients, users),
		grants:    make(map[string]GrantStrategy),
		config:    config,
		logger:    logger,
	}

	s.RegisterGrant(&authorizationCodeGrant{srv: s})
	s.RegisterGrant(&passwordGrant{srv: s})
	s.RegisterGrant(&refreshTokenGrant{srv: s})

	return s
}

// RegisterGrant adds or replaces the strategy for a grant type
func (s *Server) RegisterGrant(strategy GrantStrategy) {
	s.grants[strategy.GrantType()] = strategy
}

// Authorize handles the authorize step: it validates the client and redirect
// URI, then either persists a short-lived authorization code or, for the
// implicit flow, mints an access token directly with no refresh token.
func (s *Server) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	if req.Principal == nil {
		return nil, NewProtocolError(KindUnauthenticated, "authorize requires an authenticated resource owner")
	}

	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("client lookup failed: %w", err)
	}
	if client == nil {
		return nil, NewProtocolError(KindInvalidClient, "unknown client")
	}
	if !client.HasRedirectURI(req.RedirectURI) {
		return nil, NewProtocolError(KindInvalidRedirectURI, "redirect_uri is not registered for this client")
	}

	switch req.ResponseType {
	case "code":
		code := &AuthorizationCode{
			ClientID:    client.ID,
			UserID:      req.Principal.UserID,
			RedirectURI: req.RedirectURI,
			Scope:       req.Scope,
			ExpiresAt:   time.Now().Add(s.config.AuthorizationCodeLifetime),
		}
		if err := s.tokens.SaveAuthorizationCode(ctx, code); err != nil {
			return nil, fmt.Errorf("failed to persist authorization code: %w", err)
		}
		s.logger.WithField("client_id", client.ID).Debug("authorization code issued")
		return &AuthorizeResult{Code: code, State: req.State}, nil

	case "token":
		// Implicit flow: access token only, no refresh token issued
		bundle, err := s.mintBundle(ctx, client.ID, req.Principal.UserID, req.Scope, false)
		if err != nil {
			return nil, err
		}
		return &AuthorizeResult{Token: bundle.AccessToken, State: req.State}, nil

	default:
		return nil, NewProtocolError(KindUnsupportedResponseType, fmt.Sprintf("unsupported response_type %q", req.ResponseType))
	}
}

// ValidateRedirect checks that the client exists and has the redirect URI
// registered, without minting anything. Used before redirecting a consent
// denial back to the client.
func (s *Server) ValidateRedirect(ctx context.Context, clientID, redirectURI string) error {
	client, err := s.clients.GetClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("client lookup failed: %w", err)
	}
	if client == nil {
		return NewProtocolError(KindInvalidClient, "unknown client")
	}
	if !client.HasRedirectURI(redirectURI) {
		return NewProtocolError(KindInvalidRedirectURI, "redirect_uri is not registered for this client")
	}
	return nil
}

// IssueToken dispatches a token-endpoint request to the strategy registered
// for its grant type.
func (s *Server) IssueToken(ctx context.Context, req *TokenRequest) (*TokenBundle, error) {
	strategy, ok := s.grants[req.GrantType]
	if !ok {
		return nil, NewProtocolError(KindUnsupportedGrantType, fmt.Sprintf("grant type %q is not supported", req.GrantType))
	}

	bundle, err := strategy.Grant(ctx, req)
	if err != nil {
		if perr, ok := AsProtocolError(err); ok {
			s.logger.WithFields(map[string]interface{}{
				"grant_type": req.GrantType,
				"client_id":  req.ClientID,
				"kind":       string(perr.Kind),
			}).Debug("grant rejected")
		}
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"grant_type": req.GrantType,
		"client_id":  bundle.AccessToken.ClientID,
	}).Info("token issued")
	return bundle, nil
}

// RevokeSession deletes the access token and, if present, its paired refresh
// token. Revoking an already-absent token is not an error.
func (s *Server) RevokeSession(ctx context.Context, accessToken string) error {
	token, err := s.tokens.GetAccessToken(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("access token lookup failed: %w", err)
	}
	if token == nil {
		return nil
	}

	if err := s.tokens.DeleteAccessToken(ctx, accessToken); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	if token.RefreshToken != "" {
		if err := s.tokens.DeleteRefreshToken(ctx, token.RefreshToken); err != nil {
			return fmt.Errorf("failed to delete refresh token: %w", err)
		}
	}

	s.logger.WithField("client_id", token.ClientID).Info("session revoked")
	return nil
}

// mintBundle persists a new access token and, when withRefresh is set, a
// paired refresh token bound to the same client/user/scope. The refresh token
// is written first; if the access-token write then fails, the refresh row is
// removed so no half-issued bundle survives.
func (s *Server) mintBundle(ctx context.Context, clientID, userID string, scope []string, withRefresh bool) (*TokenBundle, error) {
	now := time.Now()
	bundle := &TokenBundle{}

	if withRefresh {
		refresh := &RefreshToken{
			ClientID:  clientID,
			UserID:    userID,
			Scope:     scope,
			ExpiresAt: now.Add(s.config.RefreshTokenLifetime),
		}
		if err := s.tokens.SaveRefreshToken(ctx, refresh); err != nil {
			return nil, fmt.Errorf("failed to persist refresh token: %w", err)
		}
		bundle.RefreshToken = refresh
	}

	access := &AccessToken{
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.config.AccessTokenLifetime),
	}
	if bundle.RefreshToken != nil {
		access.RefreshToken = bundle.RefreshToken.Token
	}
	if err := s.tokens.SaveAccessToken(ctx, access); err != nil {
		if bundle.RefreshToken != nil {
			if derr := s.tokens.DeleteRefreshToken(ctx, bundle.RefreshToken.Token); derr != nil {
				s.logger.WithError(derr).Error("failed to roll back refresh token")
			}
		}
		return nil, fmt.Errorf("failed to persist access token: %w", err)
	}
	bundle.AccessToken = access

	return bundle, nil
}
