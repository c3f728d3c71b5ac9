// Package middleware provides the request authentication gate and rate
// limiting for the HTTP pipeline.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/contextkeys"
	"github.com/quillsec/oauthd/pkg/httputil"
	"github.com/quillsec/oauthd/pkg/observability"
)

// Requirement declares what a matching policy demands of the request
type Requirement string

const (
	// RequireToken rejects the request unless a valid bearer token resolves
	RequireToken Requirement = "require-token"
	// AllowAnonymous lets the request pass without touching the token store
	AllowAnonymous Requirement = "allow-anonymous"
	// TokenOrAnonymous lets the request pass either way but resolves and
	// attaches a principal whenever a valid bearer token is present
	TokenOrAnonymous Requirement = "token-or-anonymous"
)

// Policy pairs a path matcher with an authentication requirement. Policies
// are evaluated in order, most specific first; the first match wins.
type Policy struct {
	pattern     *regexp.Regexp
	methods     []string
	requirement Requirement
}

// NewPolicy compiles a policy from a path regexp and optional method filter
func NewPolicy(pattern string, requirement Requirement, methods ...string) (Policy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Policy{}, err
	}
	return Policy{pattern: re, methods: methods, requirement: requirement}, nil
}

// MustPolicy is NewPolicy that panics on an invalid pattern; for use with
// compile-time-constant patterns assembled at startup.
func MustPolicy(pattern string, requirement Requirement, methods ...string) Policy {
	p, err := NewPolicy(pattern, requirement, methods...)
	if err != nil {
		panic(err)
	}
	return p
}

// Matches reports whether the policy applies to the request
func (p *Policy) Matches(r *http.Request) bool {
	if len(p.methods) > 0 {
		found := false
		for _, m := range p.methods {
			if m == r.Method {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return p.pattern.MatchString(r.URL.Path)
}

// Gate is the request authentication gate: an ordered policy list evaluated
// on every inbound request. Paths matching no explicit policy hit a fixed
// require-token catch-all, so the gate fails closed. The gate only reads
// tokens; it never mutates them.
type Gate struct {
	policies []Policy
	tokens   auth.TokenStore
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewGate builds a gate from the given policies, appending the catch-all.
// metrics may be nil.
func NewGate(tokens auth.TokenStore, logger *observability.Logger, metrics *observability.Metrics, policies ...Policy) *Gate {
	all := make([]Policy, 0, len(policies)+1)
	all = append(all, policies...)
	all = append(all, MustPolicy("^/", RequireToken))

	return &Gate{
		policies: all,
		tokens:   tokens,
		logger:   logger,
		metrics:  metrics,
	}
}

// Handler wraps an HTTP handler with per-request policy evaluation
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		policy := g.match(r)

		switch policy.requirement {
		case AllowAnonymous:
			g.record(policy.requirement, "pass")
			next.ServeHTTP(w, r)

		case TokenOrAnonymous:
			// Both listeners composed: resolution is attempted, but the
			// request proceeds regardless of the outcome.
			if principal, token := g.resolve(r); principal != nil {
				ctx := contextkeys.WithPrincipal(r.Context(), principal)
				ctx = contextkeys.WithBearerToken(ctx, token)
				r = r.WithContext(ctx)
			}
			g.record(policy.requirement, "pass")
			next.ServeHTTP(w, r)

		default: // RequireToken, and fail closed for anything unexpected
			principal, token := g.resolve(r)
			if principal == nil {
				g.record(policy.requirement, "reject")
				g.unauthenticated(w)
				return
			}
			g.record(policy.requirement, "pass")
			ctx := contextkeys.WithPrincipal(r.Context(), principal)
			ctx = contextkeys.WithBearerToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		}
	})
}

// match returns the first policy applying to the request. The catch-all
// guarantees a match.
func (g *Gate) match(r *http.Request) Policy {
	for _, p := range g.policies {
		if p.Matches(r) {
			return p
		}
	}
	return Policy{requirement: RequireToken}
}

// resolve extracts the bearer token and looks it up in the token store.
// Absent, unknown, and expired tokens all resolve to no principal.
func (g *Gate) resolve(r *http.Request) (*auth.Principal, string) {
	value := httputil.BearerToken(r)
	if value == "" {
		return nil, ""
	}

	token, err := g.tokens.GetAccessToken(r.Context(), value)
	if err != nil {
		g.logger.WithError(err).Error("access token lookup failed")
		return nil, ""
	}
	if token == nil {
		return nil, ""
	}

	return &auth.Principal{
		UserID:   token.UserID,
		ClientID: token.ClientID,
		Scope:    token.Scope,
	}, value
}

func (g *Gate) record(requirement Requirement, outcome string) {
	if g.metrics != nil {
		g.metrics.GateDecisionsTotal.WithLabelValues(string(requirement), outcome).Inc()
	}
}

func (g *Gate) unauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthenticated"}`))
}

// GetPrincipal extracts the resolved principal from a request, or nil when
// the request passed the gate anonymously.
func GetPrincipal(r *http.Request) *auth.Principal {
	principal, ok := r.Context().Value(contextkeys.PrincipalKey).(*auth.Principal)
	if !ok {
		return nil
	}
	return principal
}
