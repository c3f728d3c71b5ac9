package auth

import (
	"fmt"
	"net/url"
	"time"
)

// TokenResponse is the wire representation of a successful token grant
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the structured OAuth2 error body
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// BuildTokenResponse shapes a token bundle into its wire form. Pure: no side
// effects, no I/O.
func BuildTokenResponse(bundle *TokenBundle, now time.Time) *TokenResponse {
	resp := &TokenResponse{
		AccessToken: bundle.AccessToken.Token,
		TokenType:   "bearer",
		ExpiresIn:   int64(bundle.AccessToken.ExpiresAt.Sub(now).Seconds()),
		Scope:       JoinScope(bundle.AccessToken.Scope),
	}
	if bundle.RefreshToken != nil {
		resp.RefreshToken = bundle.RefreshToken.Token
	}
	return resp
}

// BuildErrorResponse maps an error to its wire body and HTTP status. Errors
// outside the protocol taxonomy become an opaque server_error with status 500.
func BuildErrorResponse(err error) (*ErrorResponse, int) {
	if perr, ok := AsProtocolError(err); ok {
		return &ErrorResponse{Error: string(perr.Kind), Description: perr.Description}, perr.StatusCode()
	}
	return &ErrorResponse{Error: "server_error"}, 500
}

// BuildAuthorizeRedirect renders the redirect URL for an authorize result:
// code and echoed state as query parameters for the code flow, or the access
// token in the URL fragment for the implicit flow.
func BuildAuthorizeRedirect(result *AuthorizeResult, redirectURI string, now time.Time) (string, error) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URI: %w", err)
	}

	switch {
	case result.Code != nil:
		query := target.Query()
		query.Set("code", result.Code.Code)
		if result.State != "" {
			query.Set("state", result.State)
		}
		target.RawQuery = query.Encode()

	case result.Token != nil:
		fragment := url.Values{}
		fragment.Set("access_token", result.Token.Token)
		fragment.Set("token_type", "bearer")
		fragment.Set("expires_in", fmt.Sprintf("%d", int64(result.Token.ExpiresAt.Sub(now).Seconds())))
		if scope := JoinScope(result.Token.Scope); scope != "" {
			fragment.Set("scope", scope)
		}
		if result.State != "" {
			fragment.Set("state", result.State)
		}
		// Appended raw so url.String does not re-escape the encoded pairs
		return target.String() + "#" + fragment.Encode(), nil

	default:
		return "", fmt.Errorf("authorize result carries neither code nor token")
	}

	return target.String(), nil
}
