package api

import (
	"html/template"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/middleware"
	"github.com/quillsec/oauthd/pkg/observability"
)

// Server wires the OAuth2 endpoints onto a router. The grant-type state
// machine lives in auth.Server; handlers here only translate HTTP.
type Server struct {
	oauth   *auth.Server
	router  *mux.Router
	limiter *middleware.RateLimiter
	logger  *observability.Logger
	metrics *observability.Metrics
	consent *template.Template
}

// NewServer creates the API server and registers its routes. The limiter
// guards only the token endpoint; limiter and metrics may be nil.
func NewServer(oauth *auth.Server, limiter *middleware.RateLimiter, logger *observability.Logger, metrics *observability.Metrics) *Server {
	s := &Server{
		oauth:   oauth,
		router:  mux.NewRouter(),
		limiter: limiter,
		logger:  logger,
		metrics: metrics,
		consent: template.Must(template.New("consent").Parse(consentTemplate)),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the OAuth routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/oauth/authorize", s.authorizeForm).Methods("GET")
	s.router.HandleFunc("/oauth/authorize", s.authorizeSubmit).Methods("POST")

	var token http.Handler = http.HandlerFunc(s.token)
	if s.limiter != nil {
		token = middleware.TokenEndpointRateLimit(s.limiter)(token)
	}
	s.router.Handle("/oauth/token", token).Methods("POST")

	s.router.HandleFunc("/oauth/logout", s.logout).Methods("POST")
}

// Router returns the underlying router for middleware wrapping
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
