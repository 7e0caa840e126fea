// Package http wires the API server's route tree and listener.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/karin-compliance/internal/infrastructure/auth/rbac"
	"github.com/turtacn/karin-compliance/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/handlers"
	"github.com/turtacn/karin-compliance/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handlers and middleware dependencies of the
// route tree.  Nil handlers leave their routes unregistered.
type RouterConfig struct {
	CaseHandler   *handlers.CaseHandler
	AlertHandler  *handlers.AlertHandler
	RiskHandler   *handlers.RiskHandler
	HealthHandler *handlers.HealthHandler

	// Permissions gates the on-demand scan.  Nil leaves it open to any actor.
	Permissions middleware.PermissionChecker
	RateLimiter middleware.RateLimiter

	Logger         logging.Logger
	RequestMetrics middleware.RequestRecorder
	MetricsHandler http.Handler
	MetricsPath    string
}

// NewRouter builds the route tree: probes and metrics at the root, the API
// under /api/v1.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogging(cfg.Logger, middleware.DefaultLoggingConfig()))
	}
	r.Use(chimw.Recoverer)
	if cfg.RequestMetrics != nil {
		r.Use(middleware.Metrics(cfg.RequestMetrics))
	}
	r.Use(middleware.Actor)

	if cfg.HealthHandler != nil {
		r.Get("/healthz", cfg.HealthHandler.Liveness)
		r.Get("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RateLimiter != nil {
			api.Use(middleware.RateLimit(cfg.RateLimiter, middleware.RateLimitConfig{}))
		}
		registerCaseRoutes(api, cfg.CaseHandler)
		registerAlertRoutes(api, cfg.AlertHandler, cfg.Permissions)
		registerRiskRoutes(api, cfg.RiskHandler)
	})

	return r
}

// registerCaseRoutes mounts case and extension endpoints.  Reads are open;
// every write needs an actor.
func registerCaseRoutes(r chi.Router, h *handlers.CaseHandler) {
	if h == nil {
		return
	}
	r.Route("/cases", func(cr chi.Router) {
		cr.With(middleware.RequireActor).Post("/", h.OpenCase)
		cr.Route("/{caseId}", func(item chi.Router) {
			item.Get("/", h.GetCase)
			item.Get("/deadline", h.GetDeadline)
			item.With(middleware.RequireActor).Post("/transitions", h.Transition)
			item.With(middleware.RequireActor).Post("/extensions", h.RequestExtension)
		})
	})
	r.Route("/extensions/{extensionId}", func(er chi.Router) {
		er.Get("/", h.GetExtension)
		er.With(middleware.RequireActor).Post("/decision", h.DecideExtension)
	})
}

func registerAlertRoutes(r chi.Router, h *handlers.AlertHandler, perms middleware.PermissionChecker) {
	if h == nil {
		return
	}
	mws := []func(http.Handler) http.Handler{middleware.RequireActor}
	if perms != nil {
		mws = append(mws, middleware.RequirePermission(perms, rbac.PermAlertScan))
	}
	r.With(mws...).Post("/alerts/scan", h.Scan)
}

func registerRiskRoutes(r chi.Router, h *handlers.RiskHandler) {
	if h == nil {
		return
	}
	r.Post("/risk/analyze", h.Analyze)
}
