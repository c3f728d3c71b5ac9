package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/contextkeys"
	"github.com/quillsec/oauthd/pkg/observability"
)

// stubTokenStore serves a fixed set of access tokens; everything else panics
// because the gate must never touch it.
type stubTokenStore struct {
	auth.TokenStore
	tokens map[string]*auth.AccessToken
}

func (s *stubTokenStore) GetAccessToken(ctx context.Context, value string) (*auth.AccessToken, error) {
	token, ok := s.tokens[value]
	if !ok || token.IsExpired(time.Now()) {
		return nil, nil
	}
	return token, nil
}

func newTestGate(policies ...Policy) *Gate {
	store := &stubTokenStore{tokens: map[string]*auth.AccessToken{
		"oat_valid": {
			Token:     "oat_valid",
			ClientID:  "web-app",
			UserID:    "user-1",
			Scope:     []string{"profile"},
			ExpiresAt: time.Now().Add(time.Hour),
		},
		"oat_expired": {
			Token:     "oat_expired",
			ClientID:  "web-app",
			ExpiresAt: time.Now().Add(-time.Hour),
		},
	}}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewGate(store, logger, nil, policies...)
}

func okHandler(called *bool, principal **auth.Principal) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		if principal != nil {
			*principal = GetPrincipal(r)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestGateFailsClosed(t *testing.T) {
	t.Run("unmatched paths require a token", func(t *testing.T) {
		gate := newTestGate(MustPolicy("^/oauth", TokenOrAnonymous))

		var called bool
		handler := gate.Handler(okHandler(&called, nil))

		req := httptest.NewRequest("GET", "/admin/secrets", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if called {
			t.Fatal("handler should not be called")
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", w.Code)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}
		if body["error"] != "unauthenticated" {
			t.Errorf("unexpected error value: %q", body["error"])
		}
	})

	t.Run("a gate with no policies rejects everything anonymous", func(t *testing.T) {
		gate := newTestGate()

		var called bool
		handler := gate.Handler(okHandler(&called, nil))

		req := httptest.NewRequest("GET", "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if called || w.Code != http.StatusUnauthorized {
			t.Errorf("expected rejection, got called=%v status=%d", called, w.Code)
		}
	})
}

func TestGateRequireToken(t *testing.T) {
	gate := newTestGate(MustPolicy("^/oauth/logout", RequireToken, "POST"))

	t.Run("valid bearer token passes with a principal attached", func(t *testing.T) {
		var called bool
		var principal *auth.Principal
		handler := gate.Handler(okHandler(&called, &principal))

		req := httptest.NewRequest("POST", "/oauth/logout", nil)
		req.Header.Set("Authorization", "Bearer oat_valid")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called {
			t.Fatal("handler was not called")
		}
		if principal == nil {
			t.Fatal("expected a principal")
		}
		if principal.UserID != "user-1" || principal.ClientID != "web-app" {
			t.Errorf("unexpected principal: %+v", principal)
		}
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		var called bool
		handler := gate.Handler(okHandler(&called, nil))

		req := httptest.NewRequest("POST", "/oauth/logout", nil)
		req.Header.Set("Authorization", "Bearer oat_expired")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if called || w.Code != http.StatusUnauthorized {
			t.Errorf("expected rejection, got called=%v status=%d", called, w.Code)
		}
	})

	t.Run("missing header is rejected", func(t *testing.T) {
		var called bool
		handler := gate.Handler(okHandler(&called, nil))

		req := httptest.NewRequest("POST", "/oauth/logout", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if called || w.Code != http.StatusUnauthorized {
			t.Errorf("expected rejection, got called=%v status=%d", called, w.Code)
		}
	})

	t.Run("bearer token value is attached to the context", func(t *testing.T) {
		var token string
		handler := gate.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token = contextkeys.BearerTokenFrom(r.Context())
		}))

		req := httptest.NewRequest("POST", "/oauth/logout", nil)
		req.Header.Set("Authorization", "Bearer oat_valid")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if token != "oat_valid" {
			t.Errorf("expected bearer token in context, got %q", token)
		}
	})
}

func TestGateTokenOrAnonymous(t *testing.T) {
	gate := newTestGate(MustPolicy("^/oauth", TokenOrAnonymous))

	t.Run("anonymous request passes without a principal", func(t *testing.T) {
		var called bool
		var principal *auth.Principal
		handler := gate.Handler(okHandler(&called, &principal))

		req := httptest.NewRequest("POST", "/oauth/token", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called || w.Code != http.StatusOK {
			t.Fatalf("expected pass, got called=%v status=%d", called, w.Code)
		}
		if principal != nil {
			t.Errorf("expected no principal, got %+v", principal)
		}
	})

	t.Run("valid token attaches a principal", func(t *testing.T) {
		var called bool
		var principal *auth.Principal
		handler := gate.Handler(okHandler(&called, &principal))

		req := httptest.NewRequest("GET", "/oauth/authorize", nil)
		req.Header.Set("Authorization", "Bearer oat_valid")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called {
			t.Fatal("handler was not called")
		}
		if principal == nil || principal.UserID != "user-1" {
			t.Errorf("expected principal for user-1, got %+v", principal)
		}
	})

	t.Run("invalid token still passes anonymously", func(t *testing.T) {
		var called bool
		var principal *auth.Principal
		handler := gate.Handler(okHandler(&called, &principal))

		req := httptest.NewRequest("POST", "/oauth/token", nil)
		req.Header.Set("Authorization", "Bearer oat_bogus")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if !called || principal != nil {
			t.Errorf("expected anonymous pass, got called=%v principal=%+v", called, principal)
		}
	})
}

func TestGateAllowAnonymous(t *testing.T) {
	gate := newTestGate(MustPolicy("^/public", AllowAnonymous))

	var called bool
	var principal *auth.Principal
	handler := gate.Handler(okHandler(&called, &principal))

	// Even with a valid token the store is not consulted
	req := httptest.NewRequest("GET", "/public/page", nil)
	req.Header.Set("Authorization", "Bearer oat_valid")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called || w.Code != http.StatusOK {
		t.Fatalf("expected pass, got called=%v status=%d", called, w.Code)
	}
	if principal != nil {
		t.Errorf("allow-anonymous should not attach a principal, got %+v", principal)
	}
}

func TestPolicyOrdering(t *testing.T) {
	// Most specific first: logout requires a token even though /oauth is open
	gate := newTestGate(
		MustPolicy("^/oauth/logout", RequireToken, "POST"),
		MustPolicy("^/oauth", TokenOrAnonymous),
	)

	var called bool
	handler := gate.Handler(okHandler(&called, nil))

	req := httptest.NewRequest("POST", "/oauth/logout", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if called || w.Code != http.StatusUnauthorized {
		t.Errorf("logout without token should be rejected, got called=%v status=%d", called, w.Code)
	}

	// The same path with GET falls through to the broader policy
	called = false
	req = httptest.NewRequest("GET", "/oauth/logout", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("GET should fall through to the token-or-anonymous policy")
	}
}

func TestPolicyMethodFilter(t *testing.T) {
	p := MustPolicy("^/oauth/token", RequireToken, "POST", "PUT")

	post := httptest.NewRequest("POST", "/oauth/token", nil)
	get := httptest.NewRequest("GET", "/oauth/token", nil)

	if !p.Matches(post) {
		t.Error("expected POST to match")
	}
	if p.Matches(get) {
		t.Error("expected GET not to match")
	}
}

func TestNewPolicyInvalidPattern(t *testing.T) {
	if _, err := NewPolicy("[", RequireToken); err == nil {
		t.Error("expected compile error for invalid pattern")
	}
}
