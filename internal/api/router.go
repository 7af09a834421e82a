package api

import (
	"net/http"
	"strings"

	"github.com/authgate/authgate/internal/auth"
	apperrors "github.com/authgate/authgate/internal/errors"
	"github.com/authgate/authgate/internal/health"
	"github.com/authgate/authgate/internal/logger"
	"github.com/authgate/authgate/internal/metrics"
	"github.com/authgate/authgate/internal/middleware"
)

// Deps is everything the router mounts. Metrics and RateLimiter may be nil.
type Deps struct {
	Auth           *auth.Handler
	Guard          *auth.Guard
	Health         *health.Handler
	Metrics        *metrics.Metrics
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	Logger         *logger.Logger
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	deps    Deps
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = logger.Default().WithComponent("http")
	}

	r := &Router{mux: http.NewServeMux(), deps: deps}
	r.setupRoutes()

	stack := []func(http.Handler) http.Handler{
		middleware.Recoverer(deps.Logger),
		middleware.RequestID,
		middleware.Logging(deps.Logger),
	}
	if deps.Metrics != nil {
		stack = append(stack, deps.Metrics.Middleware(r.routePattern))
	}
	stack = append(stack, middleware.CORS(deps.AllowedOrigins))
	r.handler = middleware.Chain(r.mux, stack...)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// routePattern is the path part of the pattern the mux would dispatch req
// to, or "" when no route matches.
func (r *Router) routePattern(req *http.Request) string {
	_, pattern := r.mux.Handler(req)
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func (r *Router) setupRoutes() {
	h, g := r.deps.Auth, r.deps.Guard
	limited := r.deps.RateLimiter.Middleware

	// Health and metrics
	r.mux.HandleFunc("GET /health", r.deps.Health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.deps.Health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.deps.Health.ReadinessHandler)
	if r.deps.Metrics != nil {
		r.mux.Handle("GET /metrics", r.deps.Metrics.Handler())
	}

	// Auth routes (no auth required)
	r.mux.Handle("POST /api/v1/auth/register", limited(apperrors.HandleFunc(h.Register)))
	r.mux.Handle("POST /api/v1/auth/login", limited(apperrors.HandleFunc(h.Login)))
	r.mux.Handle("POST /api/v1/auth/refresh", limited(apperrors.HandleFunc(h.Refresh)))

	// Auth routes (auth required)
	r.mux.Handle("POST /api/v1/auth/logout", g.RequireAccess(apperrors.HandleFunc(h.Logout)))

	// Admin routes resolve the token themselves
	r.mux.Handle("GET /api/v1/admin/users", g.RequireAdmin(apperrors.HandleFunc(h.ListUsers)))
}
