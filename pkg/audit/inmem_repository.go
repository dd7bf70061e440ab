package audit

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository implements Repository using in-memory storage.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemoryRepository creates a new in-memory audit repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append stores a copy of entry.
func (r *InMemoryRepository) Append(ctx context.Context, entry Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Metadata = copyMetadata(entry.Metadata)
	r.entries = append(r.entries, entry)
	return nil
}

// List returns matching entries newest first.
func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Entry, int, error) {
	r.mu.RLock()
	matched := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		if filter.Matches(r.entries[i]) {
			matched = append(matched, r.entries[i])
		}
	}
	r.mu.RUnlock()

	// Entries with equal timestamps keep reverse append order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].OccurredAt.After(matched[j].OccurredAt)
	})

	total := len(matched)
	if offset >= total {
		return []Entry{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total, nil
}

// Statistics walks every entry.
func (r *InMemoryRepository) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := newStatistics(now)
	for _, e := range r.entries {
		stats.Total++
		stats.ByAction[string(e.Action)]++
		stats.BySeverity[string(e.Severity)]++
		stats.ByResult[string(e.Result)]++

		age := now.Sub(e.OccurredAt)
		if age <= Windows.Day {
			stats.Last24h++
		}
		if age <= Windows.Week {
			stats.Last7d++
		}
		if age <= Windows.Month {
			stats.Last30d++
		}
	}
	return stats, nil
}

// Clear replaces every entry with marker.
func (r *InMemoryRepository) Clear(ctx context.Context, marker Entry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := int64(len(r.entries))
	marker.Metadata = copyMetadata(marker.Metadata)
	r.entries = []Entry{marker}
	return removed, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}
