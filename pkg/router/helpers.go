package router

import (
	"fmt"
	"log/slog"

	"github.com/go-chi/jwtauth/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/simple-portal/pkg/audit"
	auditapi "github.com/tendant/simple-portal/pkg/audit/api"
	"github.com/tendant/simple-portal/pkg/config"
	"github.com/tendant/simple-portal/pkg/impersonate"
	impersonateapi "github.com/tendant/simple-portal/pkg/impersonate/api"
	"github.com/tendant/simple-portal/pkg/metrics"
	"github.com/tendant/simple-portal/pkg/permission"
	"github.com/tendant/simple-portal/pkg/ratelimit"
	"github.com/tendant/simple-portal/pkg/sessions"
	sessionsapi "github.com/tendant/simple-portal/pkg/sessions/api"
)

// Options selects the backing stores for NewServices.
type Options struct {
	Config config.Config

	// Pool is required when Config.Server.Store is "postgres".
	Pool *pgxpool.Pool

	// Tracker overrides the tracker built from Config.Session.
	Tracker sessions.Tracker

	// Registry receives the portal collectors. A new registry with the Go
	// and process collectors is created when nil.
	Registry *prometheus.Registry

	Logger *slog.Logger
}

// Services are the wired portal services.
type Services struct {
	Audit         *audit.Service
	Impersonation *impersonate.Service
	Tracker       sessions.Tracker
	Limiter       *ratelimit.Limiter
	Metrics       *metrics.Metrics
	Registry      *prometheus.Registry
}

// NewServices builds repositories and services from opts.
//
// Example:
//
//	svc, err := router.NewServices(router.Options{Config: cfg, Pool: pool})
//	if err != nil {
//	    return err
//	}
//	router.SetupRoutes(r, router.NewConfig(cfg, svc))
func NewServices(opts Options) (*Services, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(reg)

	var (
		auditRepo         audit.Repository
		impersonationRepo impersonate.Repository
	)
	switch cfg.Server.Store {
	case "memory":
		auditRepo = audit.NewInMemoryRepository()
		impersonationRepo = impersonate.NewInMemoryRepository()
	case "postgres":
		if opts.Pool == nil {
			return nil, fmt.Errorf("postgres store requires a database pool")
		}
		auditRepo = audit.NewPostgresRepository(opts.Pool)
		impersonationRepo = impersonate.NewPostgresRepository(opts.Pool)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Server.Store)
	}

	tracker := opts.Tracker
	if tracker == nil {
		var err error
		tracker, err = sessions.NewTracker(cfg.Session, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create session tracker: %w", err)
		}
	}

	auditService := audit.NewService(auditRepo,
		audit.WithMetrics(m.Audit),
		audit.WithLogger(logger))

	impersonationService := impersonate.NewService(impersonationRepo, auditService,
		impersonate.WithConfig(cfg.Impersonation),
		impersonate.WithTracker(tracker),
		impersonate.WithMetrics(m.Impersonation),
		impersonate.WithLogger(logger))

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewLimiter(cfg.RateLimit.PerSec, cfg.RateLimit.Burst)
	}

	return &Services{
		Audit:         auditService,
		Impersonation: impersonationService,
		Tracker:       tracker,
		Limiter:       limiter,
		Metrics:       m,
		Registry:      reg,
	}, nil
}

// NewConfig builds the HTTP handlers for svc.
func NewConfig(cfg config.Config, svc *Services) Config {
	gate := permission.NewGate(cfg.Capabilities)
	return Config{
		AdminPrefix:         cfg.Server.AdminPrefix,
		Auth:                jwtauth.New("HS256", []byte(cfg.JWT.Secret), nil),
		Gate:                gate,
		ImpersonationHandle: impersonateapi.NewHandler(svc.Impersonation, gate),
		AuditHandle:         auditapi.NewHandler(svc.Audit, gate, cfg.Audit),
		SessionHandle:       sessionsapi.NewHandler(svc.Tracker, svc.Audit),
		Tracker:             svc.Tracker,
		AdminLimiter:        svc.Limiter,
		MetricsHandler:      promhttp.HandlerFor(svc.Registry, promhttp.HandlerOpts{}),
	}
}
