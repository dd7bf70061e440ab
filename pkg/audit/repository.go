package audit

import (
	"context"
	"time"
)

// Repository stores audit entries. Implementations never update an entry.
type Repository interface {
	// Append stores one entry.
	Append(ctx context.Context, entry Entry) error

	// List returns entries matching filter, newest first, and the filtered total.
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]Entry, int, error)

	// Statistics aggregates every stored entry relative to now.
	Statistics(ctx context.Context, now time.Time) (Statistics, error)

	// Clear stores marker and removes every other entry in one atomic step,
	// returning how many were removed. If marker cannot be stored nothing is
	// removed.
	Clear(ctx context.Context, marker Entry) (int64, error)
}

func newStatistics(now time.Time) Statistics {
	return Statistics{
		ByAction:    make(map[string]int),
		BySeverity:  make(map[string]int),
		ByResult:    make(map[string]int),
		GeneratedAt: now,
	}
}
