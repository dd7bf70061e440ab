package impersonate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DB can also open transactions. *pgxpool.Pool satisfies it.
type DB interface {
	DBTX
	Begin(context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Repository on the impersonation_sessions table.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new PostgreSQL impersonation repository
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, admin_id, admin_email, target_client_id, reason, status,
	started_at, expires_at, ended_at, ended_by, end_reason`

func scanSession(row pgx.Row) (Session, error) {
	var (
		s         Session
		status    string
		endedBy   *string
		endReason *string
	)
	err := row.Scan(
		&s.ID,
		&s.AdminID,
		&s.AdminEmail,
		&s.TargetClientID,
		&s.Reason,
		&status,
		&s.StartedAt,
		&s.ExpiresAt,
		&s.EndedAt,
		&endedBy,
		&endReason,
	)
	if err != nil {
		return Session{}, err
	}
	s.Status = Status(status)
	if endedBy != nil {
		s.EndedBy = *endedBy
	}
	if endReason != nil {
		s.EndReason = *endReason
	}
	return s, nil
}

// Create inserts the session. With SingleActive the admin's row set is
// serialised by a transaction-scoped advisory lock before the check.
func (r *PostgresRepository) Create(ctx context.Context, session Session, opts CreateOptions) error {
	insert := `
		INSERT INTO impersonation_sessions (
			id, admin_id, admin_email, target_client_id, reason, status, started_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	args := []interface{}{
		session.ID,
		session.AdminID,
		session.AdminEmail,
		session.TargetClientID,
		session.Reason,
		string(session.Status),
		session.StartedAt,
		session.ExpiresAt,
	}

	if !opts.SingleActive {
		if _, err := r.db.Exec(ctx, insert, args...); err != nil {
			return fmt.Errorf("failed to create impersonation session: %w", err)
		}
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", "impersonation:"+session.AdminID); err != nil {
		return fmt.Errorf("failed to lock admin sessions: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM impersonation_sessions
			WHERE admin_id = $1 AND status = 'active' AND expires_at >= $2
		)`, session.AdminID, opts.Now).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check active sessions: %w", err)
	}
	if exists {
		return ErrActiveSessionExists
	}

	if _, err := tx.Exec(ctx, insert, args...); err != nil {
		return fmt.Errorf("failed to create impersonation session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit impersonation session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (Session, error) {
	row := r.db.QueryRow(ctx, "SELECT "+sessionColumns+" FROM impersonation_sessions WHERE id = $1", id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to get impersonation session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) List(ctx context.Context, filter HistoryFilter, limit, offset int) ([]Session, error) {
	where, args := buildSessionFilter(filter)

	query := "SELECT " + sessionColumns + " FROM impersonation_sessions" + where + " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.query(ctx, query, args...)
}

func (r *PostgresRepository) Summarize(ctx context.Context, filter HistoryFilter) (Summary, error) {
	where, args := buildSessionFilter(filter)
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'active'),
			COUNT(*) FILTER (WHERE status = 'ended'),
			COUNT(*) FILTER (WHERE status = 'expired')
		FROM impersonation_sessions` + where

	var s Summary
	if err := r.db.QueryRow(ctx, query, args...).Scan(
		&s.TotalSessions,
		&s.ActiveSessions,
		&s.EndedSessions,
		&s.ExpiredSessions,
	); err != nil {
		return Summary{}, fmt.Errorf("failed to summarize impersonation sessions: %w", err)
	}
	return s, nil
}

// Transition relies on the WHERE status = 'active' guard; of two concurrent
// callers only one gets a row back.
func (r *PostgresRepository) Transition(ctx context.Context, id uuid.UUID, t Transition) (Session, error) {
	query := `
		UPDATE impersonation_sessions
		SET status = $2, ended_at = $3, ended_by = $4, end_reason = $5
		WHERE id = $1 AND status = 'active'
		RETURNING ` + sessionColumns

	s, err := scanSession(r.db.QueryRow(ctx, query, id, string(t.To), t.EndedAt, t.EndedBy, t.EndReason))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("failed to transition impersonation session: %w", err)
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return current, ErrSessionNotActive
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	query := "SELECT " + sessionColumns + ` FROM impersonation_sessions
		WHERE status = 'active' AND expires_at < $1
		ORDER BY expires_at`
	return r.query(ctx, query, now)
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) ([]Session, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query impersonation sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impersonation session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate impersonation sessions: %w", err)
	}
	return sessions, nil
}

func buildSessionFilter(f HistoryFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.AdminID != "" {
		add("admin_id = $%d", f.AdminID)
	}
	if f.TargetClientID != "" {
		add("target_client_id = $%d", f.TargetClientID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.From != nil {
		add("started_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("started_at <= $%d", *f.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
