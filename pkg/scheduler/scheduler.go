package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tendant/simple-portal/pkg/impersonate"
	"github.com/tendant/simple-portal/pkg/ratelimit"
	"github.com/tendant/simple-portal/pkg/sessions"
)

// Result reports what one sweep did.
type Result struct {
	Expired       int
	TrackerPruned int
	LimiterPruned int
}

// Sweeper closes impersonation sessions past their expiry and prunes idle
// tracker and rate limiter state, either on demand or on a cron schedule.
type Sweeper struct {
	service     *impersonate.Service
	tracker     sessions.Tracker
	limiter     *ratelimit.Limiter
	limiterIdle time.Duration
	timeout     time.Duration
	logger      *slog.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithTracker prunes tracker records on every run.
func WithTracker(t sessions.Tracker) Option {
	return func(s *Sweeper) {
		s.tracker = t
	}
}

// WithLimiter drops rate limiter keys idle for longer than idle on every run.
func WithLimiter(l *ratelimit.Limiter, idle time.Duration) Option {
	return func(s *Sweeper) {
		s.limiter = l
		s.limiterIdle = idle
	}
}

// WithTimeout bounds a single scheduled run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// WithLogger overrides slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// NewSweeper creates a sweeper for service.
func NewSweeper(service *impersonate.Service, opts ...Option) *Sweeper {
	s := &Sweeper{
		service: service,
		timeout: 30 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce sweeps expired sessions, then prunes. Prune failures are logged and
// do not fail the run.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	var res Result

	expired, err := s.service.CleanupExpiredSessions(ctx)
	res.Expired = expired
	if err != nil {
		return res, fmt.Errorf("failed to sweep expired sessions: %w", err)
	}

	if s.tracker != nil {
		pruned, err := s.tracker.Prune(ctx)
		if err != nil {
			s.logger.Warn("Failed to prune session tracker", "err", err)
		}
		res.TrackerPruned = pruned
	}
	if s.limiter != nil {
		res.LimiterPruned = s.limiter.Prune(s.limiterIdle)
	}
	return res, nil
}

// Start runs the sweep on schedule until Stop. schedule accepts standard
// five-field cron expressions and descriptors such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	logger := cronLogger{s.logger}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.AddFunc(schedule, func() {
		runCtx, done := context.WithTimeout(ctx, s.timeout)
		defer done()

		res, err := s.RunOnce(runCtx)
		if err != nil {
			s.logger.Error("Scheduled sweep failed", "err", err)
			return
		}
		s.logger.Debug("Scheduled sweep finished",
			"expired", res.Expired,
			"tracker_pruned", res.TrackerPruned,
			"limiter_pruned", res.LimiterPruned)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron = c
	s.cancel = cancel
	c.Start()
	s.logger.Info("Impersonation sweeper started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or for
// ctx to end, whichever comes first.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	stopped := s.cron.Stop()
	defer s.cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("Impersonation sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
