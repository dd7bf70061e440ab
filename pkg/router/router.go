package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/tendant/simple-portal/pkg/audit"
	auditapi "github.com/tendant/simple-portal/pkg/audit/api"
	impersonateapi "github.com/tendant/simple-portal/pkg/impersonate/api"
	"github.com/tendant/simple-portal/pkg/permission"
	"github.com/tendant/simple-portal/pkg/ratelimit"
	"github.com/tendant/simple-portal/pkg/sessions"
	sessionsapi "github.com/tendant/simple-portal/pkg/sessions/api"
)

// Config holds all the dependencies and handlers needed to setup routes
type Config struct {
	// AdminPrefix is where every admin route is mounted, e.g. /api/admin.
	AdminPrefix string

	// JWT verification and capability checks
	Auth *jwtauth.JWTAuth
	Gate *permission.Gate

	ImpersonationHandle *impersonateapi.Handler
	AuditHandle         *auditapi.Handler
	SessionHandle       *sessionsapi.Handler // Optional: can be nil

	// Tracker records activity on admin routes. Optional.
	Tracker sessions.Tracker

	// AdminLimiter throttles mutating impersonation routes. Optional.
	AdminLimiter *ratelimit.Limiter

	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
}

// SetupRoutes mounts all portal routes on the provided router.
//
// Session routes do not record activity themselves, so reading /sessions/me
// reports the caller's idle state instead of resetting it.
func SetupRoutes(router chi.Router, cfg Config) {
	if cfg.MetricsHandler != nil {
		router.Handle("/metrics", cfg.MetricsHandler)
	}

	var mutating []func(http.Handler) http.Handler
	if cfg.AdminLimiter != nil {
		mutating = append(mutating, ratelimit.Middleware(cfg.AdminLimiter))
	}

	router.Route(cfg.AdminPrefix, func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Use(audit.RequestContextMiddleware)
		r.Use(permission.Verifier(cfg.Auth))
		r.Use(cfg.Gate.Authenticated)

		if cfg.SessionHandle != nil {
			r.Route("/sessions", cfg.SessionHandle.RegisterRoutes)
			slog.Info("Session routes mounted", "prefix", cfg.AdminPrefix+"/sessions")
		}

		r.Group(func(r chi.Router) {
			if cfg.Tracker != nil {
				r.Use(sessions.ActivityMiddleware(cfg.Tracker))
			}
			r.Route("/impersonations", func(r chi.Router) {
				cfg.ImpersonationHandle.RegisterRoutes(r, mutating...)
			})
			r.Route("/audit", cfg.AuditHandle.RegisterRoutes)
		})
	})
}
