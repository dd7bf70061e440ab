package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldUserID       = "user_id"
	fieldEmail        = "email"
	fieldLastActivity = "last_activity_at"
	trackerKeyPrefix  = "tracker:"
)

// RedisTracker keeps one hash per principal. Keys expire after twice the
// idle timeout so abandoned records clean themselves up.
type RedisTracker struct {
	client      *redis.Client
	keyPrefix   string
	idleTimeout time.Duration
	now         func() time.Time
}

// NewRedisTracker creates a tracker on an existing client.
func NewRedisTracker(client *redis.Client, keyPrefix string, idleTimeout time.Duration) *RedisTracker {
	return &RedisTracker{
		client:      client,
		keyPrefix:   keyPrefix,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// WithClock overrides time.Now. Call before first use.
func (t *RedisTracker) WithClock(now func() time.Time) *RedisTracker {
	t.now = now
	return t
}

func (t *RedisTracker) key(userID string) string {
	return t.keyPrefix + trackerKeyPrefix + userID
}

func (t *RedisTracker) RecordActivity(ctx context.Context, userID, email string) (Record, error) {
	now := t.now().UTC()
	values := []interface{}{
		fieldUserID, userID,
		fieldLastActivity, now.Format(time.RFC3339Nano),
	}
	if email != "" {
		values = append(values, fieldEmail, email)
	}

	key := t.key(userID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values...)
		pipe.Expire(ctx, key, 2*t.idleTimeout)
		return nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("failed to record activity: %w", err)
	}

	if email == "" {
		email, err = t.client.HGet(ctx, key, fieldEmail).Result()
		if err != nil && err != redis.Nil {
			return Record{}, fmt.Errorf("failed to read tracker email: %w", err)
		}
	}
	return Record{UserID: userID, Email: email, LastActivityAt: now, IsActive: true}, nil
}

func (t *RedisTracker) GetSession(ctx context.Context, userID string) (Record, bool, error) {
	fields, err := t.client.HGetAll(ctx, t.key(userID)).Result()
	if err != nil && err != redis.Nil {
		return Record{}, false, fmt.Errorf("failed to get tracker record: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	last, err := time.Parse(time.RFC3339Nano, fields[fieldLastActivity])
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to parse last activity: %w", err)
	}
	rec := Record{
		UserID:         fields[fieldUserID],
		Email:          fields[fieldEmail],
		LastActivityAt: last,
		IsActive:       true,
	}
	return rec.Evaluate(t.now(), t.idleTimeout), true, nil
}

func (t *RedisTracker) InvalidateSession(ctx context.Context, userID string) error {
	if err := t.client.Del(ctx, t.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate tracker record: %w", err)
	}
	return nil
}

// Prune is a no-op; key expiry does the work.
func (t *RedisTracker) Prune(ctx context.Context) (int, error) {
	return 0, nil
}
