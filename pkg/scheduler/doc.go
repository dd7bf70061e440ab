// Package scheduler runs periodic maintenance for the portal: expiring
// impersonation sessions past their deadline and pruning idle tracker and
// rate limiter state.
//
//	sweeper := scheduler.NewSweeper(impersonationService,
//		scheduler.WithTracker(tracker),
//		scheduler.WithLimiter(limiter, time.Hour))
//	if err := sweeper.Start(cfg.Impersonation.SweepSchedule); err != nil {
//		return err
//	}
//	defer sweeper.Stop(ctx)
package scheduler
