package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/contextkeys"
	"github.com/quillsec/oauthd/pkg/httputil"
	"github.com/quillsec/oauthd/pkg/middleware"
)

// authorizeForm renders the consent form for an authenticated resource owner.
// The flow parameters arrive as query parameters and are only echoed here;
// all validation happens on submission.
func (s *Server) authorizeForm(w http.ResponseWriter, r *http.Request) {
	if middleware.GetPrincipal(r) == nil {
		s.writeOAuthError(w, auth.NewProtocolError(auth.KindUnauthenticated, "authorize requires an authenticated resource owner"))
		return
	}

	query := r.URL.Query()
	data := consentData{
		ClientID:     query.Get("client_id"),
		RedirectURI:  query.Get("redirect_uri"),
		ResponseType: query.Get("response_type"),
		Scope:        query.Get("scope"),
		State:        query.Get("state"),
	}
	if data.ClientID == "" || data.RedirectURI == "" || data.ResponseType == "" {
		httputil.WriteBadRequest(w, "client_id, redirect_uri and response_type are required")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.consent.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("failed to render consent form")
	}
}

// authorizeSubmit handles the consent decision: a denial redirects back with
// error=access_denied, an approval runs the authorize step and redirects with
// the code or token. Client and redirect-URI failures are answered directly,
// never redirected to an unverified URI.
func (s *Server) authorizeSubmit(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		s.writeOAuthError(w, auth.NewProtocolError(auth.KindUnauthenticated, "authorize requires an authenticated resource owner"))
		return
	}

	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form body")
		return
	}

	req := &auth.AuthorizeRequest{
		ClientID:     httputil.FormValue(r, "client_id"),
		RedirectURI:  httputil.FormValue(r, "redirect_uri"),
		ResponseType: httputil.FormValue(r, "response_type"),
		Scope:        auth.ParseScope(httputil.FormValue(r, "scope")),
		State:        httputil.FormValue(r, "state"),
		Principal:    principal,
	}

	if httputil.FormValue(r, "decision") != "approve" {
		s.denyRedirect(w, r, req)
		return
	}

	result, err := s.oauth.Authorize(r.Context(), req)
	if err != nil {
		s.writeOAuthError(w, err)
		return
	}

	location, err := auth.BuildAuthorizeRedirect(result, req.RedirectURI, time.Now())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.AuthorizationsTotal.WithLabelValues(req.ResponseType).Inc()
	}
	httputil.Redirect(w, location)
}

// denyRedirect sends the resource owner back to the client with
// error=access_denied, but only after the redirect URI checks out.
func (s *Server) denyRedirect(w http.ResponseWriter, r *http.Request, req *auth.AuthorizeRequest) {
	if err := s.oauth.ValidateRedirect(r.Context(), req.ClientID, req.RedirectURI); err != nil {
		s.writeOAuthError(w, err)
		return
	}

	target, err := url.Parse(req.RedirectURI)
	if err != nil {
		httputil.WriteBadRequest(w, "malformed redirect_uri")
		return
	}
	query := target.Query()
	query.Set("error", "access_denied")
	if req.State != "" {
		query.Set("state", req.State)
	}
	target.RawQuery = query.Encode()
	httputil.Redirect(w, target.String())
}

// token handles the token endpoint: every registered grant type arrives here
// as a form-encoded POST. Client credentials come from Basic auth or the form.
func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.WriteBadRequest(w, "malformed form body")
		return
	}

	clientID, clientSecret := httputil.ClientCredentials(r)
	req := &auth.TokenRequest{
		GrantType:    httputil.FormValue(r, "grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         httputil.FormValue(r, "code"),
		RedirectURI:  httputil.FormValue(r, "redirect_uri"),
		Username:     httputil.FormValue(r, "username"),
		Password:     httputil.FormValue(r, "password"),
		Scope:        auth.ParseScope(httputil.FormValue(r, "scope")),
		RefreshToken: httputil.FormValue(r, "refresh_token"),
	}

	bundle, err := s.oauth.IssueToken(r.Context(), req)
	if err != nil {
		if s.metrics != nil {
			if perr, ok := auth.AsProtocolError(err); ok {
				s.metrics.GrantErrorsTotal.WithLabelValues(req.GrantType, string(perr.Kind)).Inc()
			}
		}
		s.writeOAuthError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.GrantsTotal.WithLabelValues(req.GrantType).Inc()
	}

	// Token responses must never be cached
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	httputil.WriteJSON(w, http.StatusOK, auth.BuildTokenResponse(bundle, time.Now()))
}

// logout revokes the session bound to the presented bearer token. The gate
// guarantees a principal is attached; revoking an already-dead session still
// succeeds.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := contextkeys.BearerTokenFrom(r.Context())
	if middleware.GetPrincipal(r) == nil || token == "" {
		s.writeOAuthError(w, auth.NewProtocolError(auth.KindUnauthenticated, "logout requires a valid bearer token"))
		return
	}

	if err := s.oauth.RevokeSession(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RevocationsTotal.Inc()
	}
	httputil.WriteNoContent(w)
}

// writeOAuthError renders an error in the structured OAuth wire form
func (s *Server) writeOAuthError(w http.ResponseWriter, err error) {
	body, status := auth.BuildErrorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed")
	}
	httputil.WriteJSON(w, status, body)
}
