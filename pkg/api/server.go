package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/authz"
	"github.com/cpike5/gatelink/pkg/httputil"
	"github.com/cpike5/gatelink/pkg/invite"
	"github.com/cpike5/gatelink/pkg/observability"
)

// Server routes gatelink HTTP traffic. Construct with NewServer; it
// implements http.Handler.
type Server struct {
	router   *mux.Router
	registry *invite.Registry
	linker   *accounts.Linker
	cache    authz.Cache
	guard    *authz.Guard
	logger   *observability.Logger
	metrics  *observability.Metrics
	health   *observability.HealthChecker
}

// Deps carries the server's collaborators. Metrics and Health are optional.
type Deps struct {
	Registry *invite.Registry
	Linker   *accounts.Linker
	Cache    authz.Cache
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Health   *observability.HealthChecker
}

// NewServer creates the HTTP server and wires all routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	s := &Server{
		router:   mux.NewRouter(),
		registry: deps.Registry,
		linker:   deps.Linker,
		cache:    deps.Cache,
		guard:    authz.NewGuard(deps.Cache),
		logger:   logger.WithField("component", "api"),
		metrics:  deps.Metrics,
		health:   deps.Health,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// Registration flow: the web form issues, previews, and consumes codes.
	v1.HandleFunc("/invites", s.issueInvite).Methods(http.MethodPost)
	v1.HandleFunc("/invites/{code}", s.validateInvite).Methods(http.MethodGet)
	v1.HandleFunc("/invites/{code}/consume", s.consumeInvite).Methods(http.MethodPost)

	// Authorization reads used by the bot's command guard.
	v1.HandleFunc("/identities/{externalID}/roles", s.rolesOf).Methods(http.MethodGet)
	v1.HandleFunc("/identities/{externalID}/roles/{role}", s.checkRole).Methods(http.MethodGet)

	// Administrative tooling, guarded by role precondition.
	admin := v1.NewRoute().Subrouter()
	admin.Use(s.guard.RequireRole(AdminRole))
	admin.HandleFunc("/invites/{code}", s.revokeInvite).Methods(http.MethodDelete)
	admin.HandleFunc("/identities/{externalID}/invites", s.listInvites).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id}/link", s.linkAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/link", s.unlinkAccount).Methods(http.MethodDelete)
	admin.HandleFunc("/accounts/{id}/roles", s.assignRole).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/roles/{role}", s.removeRole).Methods(http.MethodDelete)
	admin.HandleFunc("/authz/cache", s.invalidateCache).Methods(http.MethodDelete)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
