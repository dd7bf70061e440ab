package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/tendant/chi-demo/app"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-portal/pkg/migrations"
	"github.com/tendant/simple-portal/pkg/router"
	"github.com/tendant/simple-portal/pkg/scheduler"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the admin API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.Server.Store == "postgres" {
		if migrateOnStart {
			if err := migrateUp(); err != nil {
				return err
			}
		}

		var err error
		pool, err = dbutils.NewDbPool(ctx, cfg.Database.ToDbConfig())
		if err != nil {
			logger.Error("Failed creating dbpool", "db", cfg.Database.Database, "host", cfg.Database.Host, "port", cfg.Database.Port, "user", cfg.Database.User)
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
	}

	svc, err := router.NewServices(router.Options{Config: cfg, Pool: pool, Logger: logger})
	if err != nil {
		return err
	}

	sweeper := scheduler.NewSweeper(svc.Impersonation,
		scheduler.WithTracker(svc.Tracker),
		scheduler.WithLimiter(svc.Limiter, time.Hour),
		scheduler.WithLogger(logger))
	if cfg.Impersonation.SweepEnabled {
		if err := sweeper.Start(cfg.Impersonation.SweepSchedule); err != nil {
			return err
		}
	}

	server := app.DefaultApp()
	app.RoutesHealthz(server.R)
	router.SetupRoutes(server.R, router.NewConfig(cfg, svc))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.R,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Portal listening", "addr", httpServer.Addr, "admin_prefix", cfg.Server.AdminPrefix, "store", cfg.Server.Store)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "err", err)
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Error("Sweeper shutdown failed", "err", err)
	}
	return nil
}

func migrateUp() error {
	m, err := migrations.NewMigrator(cfg.Database.ToDatabaseURL(), logger)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
