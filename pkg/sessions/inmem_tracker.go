package sessions

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	records map[string]Record
}

// InMemTracker keeps records in process memory. Keys are spread over a fixed
// set of shards so that operations on one user id never wait on another
// shard's lock.
type InMemTracker struct {
	shards      [shardCount]*shard
	idleTimeout time.Duration
	now         func() time.Time
}

// NewInMemTracker creates an empty tracker.
func NewInMemTracker(idleTimeout time.Duration) *InMemTracker {
	t := &InMemTracker{
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{records: make(map[string]Record)}
	}
	return t
}

// WithClock overrides time.Now. Call before first use.
func (t *InMemTracker) WithClock(now func() time.Time) *InMemTracker {
	t.now = now
	return t
}

func (t *InMemTracker) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return t.shards[h.Sum32()%shardCount]
}

func (t *InMemTracker) RecordActivity(ctx context.Context, userID, email string) (Record, error) {
	s := t.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[userID]
	rec.UserID = userID
	if email != "" {
		rec.Email = email
	}
	rec.LastActivityAt = t.now().UTC()
	rec.IsActive = true
	s.records[userID] = rec
	return rec, nil
}

func (t *InMemTracker) GetSession(ctx context.Context, userID string) (Record, bool, error) {
	s := t.shardFor(userID)
	s.mu.Lock()
	rec, ok := s.records[userID]
	s.mu.Unlock()

	if !ok {
		return Record{}, false, nil
	}
	return rec.Evaluate(t.now(), t.idleTimeout), true, nil
}

func (t *InMemTracker) InvalidateSession(ctx context.Context, userID string) error {
	s := t.shardFor(userID)
	s.mu.Lock()
	delete(s.records, userID)
	s.mu.Unlock()
	return nil
}

// Prune drops records idle for more than twice the idle timeout, matching
// the key TTL used by RedisTracker.
func (t *InMemTracker) Prune(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-2 * t.idleTimeout)
	pruned := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.LastActivityAt.Before(cutoff) {
				delete(s.records, id)
				pruned++
			}
		}
		s.mu.Unlock()
	}
	return pruned, nil
}

// Len returns the number of tracked records.
func (t *InMemTracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.records)
		s.mu.Unlock()
	}
	return n
}
