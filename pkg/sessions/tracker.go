package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-portal/pkg/config"
)

// Tracker records principal activity. All methods are safe for concurrent use.
type Tracker interface {
	// RecordActivity upserts the record with last_activity_at = now and is_active = true.
	RecordActivity(ctx context.Context, userID, email string) (Record, error)

	// GetSession returns the record, evaluated for idleness, and whether it exists.
	GetSession(ctx context.Context, userID string) (Record, bool, error)

	// InvalidateSession removes the record. Invalidating an unknown id is not an error.
	InvalidateSession(ctx context.Context, userID string) error

	// Prune drops records idle for longer than the retention window and
	// returns how many were dropped.
	Prune(ctx context.Context) (int, error)
}

// NewTracker builds the tracker selected by cfg.Backend.
func NewTracker(cfg config.SessionTimeoutConfig, redisCfg config.RedisConfig) (Tracker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewInMemTracker(cfg.IdleTimeout), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return NewRedisTracker(client, redisCfg.KeyPrefix, cfg.IdleTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported tracker backend: %s (supported: memory, redis)", cfg.Backend)
	}
}
