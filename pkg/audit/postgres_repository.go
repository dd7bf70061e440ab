package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// PostgresRepository implements Repository on the audit_logs table.
type PostgresRepository struct {
	db DBTX
}

// NewPostgresRepository creates a new PostgreSQL audit repository
func NewPostgresRepository(db DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const entryColumns = `id, action, severity, actor_id, actor_email, actor_name, description,
	result, occurred_at, ip_address, user_agent, metadata`

// Append inserts one row.
func (r *PostgresRepository) Append(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO audit_logs (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	if _, err := r.db.Exec(ctx, query, entryArgs(entry)...); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func entryArgs(entry Entry) []interface{} {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return []interface{}{
		entry.ID,
		string(entry.Action),
		string(entry.Severity),
		entry.ActorID,
		entry.ActorEmail,
		entry.ActorName,
		entry.Description,
		string(entry.Result),
		entry.OccurredAt,
		entry.RequestContext.IPAddress,
		entry.RequestContext.UserAgent,
		metadata,
	}
}

// List pages through matching rows newest first.
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter, limit, offset int) ([]Entry, int, error) {
	where, args := buildEntryFilter(filter)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := "SELECT " + entryColumns + " FROM audit_logs" + where + " ORDER BY occurred_at DESC, seq DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e                        Entry
			action, severity, result string
			metadata                 map[string]string
		)
		if err := rows.Scan(
			&e.ID,
			&action,
			&severity,
			&e.ActorID,
			&e.ActorEmail,
			&e.ActorName,
			&e.Description,
			&result,
			&e.OccurredAt,
			&e.RequestContext.IPAddress,
			&e.RequestContext.UserAgent,
			&metadata,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		e.Severity = Severity(severity)
		e.Result = Result(result)
		if len(metadata) > 0 {
			e.Metadata = metadata
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, total, nil
}

// Statistics runs a single GROUPING SETS query so every figure comes from
// the same snapshot.
func (r *PostgresRepository) Statistics(ctx context.Context, now time.Time) (Statistics, error) {
	query := `
		SELECT
			GROUPING(action, severity, result) AS grp,
			action, severity, result,
			COUNT(*),
			COUNT(*) FILTER (WHERE occurred_at >= $1),
			COUNT(*) FILTER (WHERE occurred_at >= $2),
			COUNT(*) FILTER (WHERE occurred_at >= $3)
		FROM audit_logs
		GROUP BY GROUPING SETS ((action), (severity), (result), ())
	`
	rows, err := r.db.Query(ctx, query,
		now.Add(-Windows.Day),
		now.Add(-Windows.Week),
		now.Add(-Windows.Month),
	)
	if err != nil {
		return Statistics{}, fmt.Errorf("failed to query audit statistics: %w", err)
	}
	defer rows.Close()

	stats := newStatistics(now)
	for rows.Next() {
		var (
			grp                      int
			action, severity, result *string
			count, day, week, month  int
		)
		if err := rows.Scan(&grp, &action, &severity, &result, &count, &day, &week, &month); err != nil {
			return Statistics{}, fmt.Errorf("failed to scan audit statistics: %w", err)
		}
		// GROUPING sets a bit for each column that is not grouped.
		switch grp {
		case 0b011:
			stats.ByAction[deref(action)] = count
		case 0b101:
			stats.BySeverity[deref(severity)] = count
		case 0b110:
			stats.ByResult[deref(result)] = count
		case 0b111:
			stats.Total = count
			stats.Last24h = day
			stats.Last7d = week
			stats.Last30d = month
		}
	}
	if err := rows.Err(); err != nil {
		return Statistics{}, fmt.Errorf("failed to iterate audit statistics: %w", err)
	}
	return stats, nil
}

// Clear inserts marker and deletes every other row in a single statement.
// Both sub-statements share one snapshot, so the delete never sees marker,
// and a failed insert rolls the delete back.
func (r *PostgresRepository) Clear(ctx context.Context, marker Entry) (int64, error) {
	query := `
		WITH marker AS (
			INSERT INTO audit_logs (` + entryColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		), removed AS (
			DELETE FROM audit_logs WHERE id <> $1 RETURNING id
		)
		SELECT COUNT(*) FROM removed
	`
	var removed int64
	if err := r.db.QueryRow(ctx, query, entryArgs(marker)...).Scan(&removed); err != nil {
		return 0, fmt.Errorf("failed to clear audit entries: %w", err)
	}
	return removed, nil
}

func buildEntryFilter(f ListFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Actions) > 0 {
		actions := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", actions)
	}
	if len(f.Severities) > 0 {
		severities := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			severities[i] = string(s)
		}
		add("severity = ANY($%d)", severities)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at <= $%d", *f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
