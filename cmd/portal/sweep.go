package main

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	dbutils "github.com/tendant/db-utils/db"
	"github.com/tendant/simple-portal/pkg/router"
	"github.com/tendant/simple-portal/pkg/scheduler"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire impersonation sessions past their deadline once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var pool *pgxpool.Pool
		if cfg.Server.Store == "postgres" {
			var err error
			pool, err = dbutils.NewDbPool(ctx, cfg.Database.ToDbConfig())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()
		}

		svc, err := router.NewServices(router.Options{Config: cfg, Pool: pool, Logger: logger})
		if err != nil {
			return err
		}

		res, err := scheduler.NewSweeper(svc.Impersonation,
			scheduler.WithTracker(svc.Tracker),
			scheduler.WithLogger(logger)).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired=%d tracker_pruned=%d\n", res.Expired, res.TrackerPruned)
		return nil
	},
}
