package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

const (
	uniqueViolation = "23505"
	// invalidTextRepresentation is raised when a session id is not a valid uuid literal.
	invalidTextRepresentation = "22P02"
)

var sessionColumns = []string{
	"id",
	"account_id",
	"user_id",
	"domain",
	"client_timestamp",
	"active",
	"created_at",
	"last_activity",
	"end_time",
	"duration_seconds",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Create persists a new session row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	sqlStmt, args, err := r.builder.Insert(table("sessions")).
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.AccountID,
			session.UserID,
			optionalString(session.Domain),
			optionalTime(session.ClientTimestamp),
			session.Active,
			optionalTime(session.CreatedAt),
			optionalTime(session.LastActivity),
			optionalTime(session.EndTime),
			optionalFloat(session.Duration),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a session by identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sqlStmt, args, err := r.selectByID(sessionID).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, sqlStmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return session, nil
}

// ListByAccount returns all sessions stored for the account ordered by most recent activity.
func (r *SessionRepository) ListByAccount(ctx context.Context, accountID string) ([]domain.Session, error) {
	sqlStmt, args, err := r.builder.
		Select(sessionColumns...).
		From(table("sessions")).
		Where(squirrel.Eq{"account_id": accountID}).
		OrderBy("last_activity DESC NULLS LAST").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, sqlStmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate and writes the mutable columns back
// inside one transaction. Identity columns are never written.
func (r *SessionRepository) Update(ctx context.Context, sessionID string, mutate func(*domain.Session) error) (*domain.Session, error) {
	selectSQL, selectArgs, err := r.selectByID(sessionID).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session for update sql: %w", err)
	}

	tx, err := r.exec.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session update: %w", err)
	}

	session, err := scanSession(tx.QueryRow(ctx, selectSQL, selectArgs...))
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}

	if err := mutate(session); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}

	updateSQL, updateArgs, err := r.builder.Update(table("sessions")).
		Set("active", session.Active).
		Set("domain", optionalString(session.Domain)).
		Set("client_timestamp", optionalTime(session.ClientTimestamp)).
		Set("last_activity", optionalTime(session.LastActivity)).
		Set("end_time", optionalTime(session.EndTime)).
		Set("duration_seconds", optionalFloat(session.Duration)).
		Where(squirrel.Eq{"id": sessionID}).
		ToSql()
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("build update session sql: %w", err)
	}

	if _, err := tx.Exec(ctx, updateSQL, updateArgs...); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("update session: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session update: %w", err)
	}
	return session, nil
}

func (r *SessionRepository) selectByID(sessionID string) squirrel.SelectBuilder {
	return r.builder.
		Select(sessionColumns...).
		From(table("sessions")).
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1)
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session         domain.Session
		sessionDomain   sql.NullString
		clientTimestamp sql.NullTime
		createdAt       sql.NullTime
		lastActivity    sql.NullTime
		endTime         sql.NullTime
		duration        sql.NullFloat64
	)

	if err := row.Scan(
		&session.ID,
		&session.AccountID,
		&session.UserID,
		&sessionDomain,
		&clientTimestamp,
		&session.Active,
		&createdAt,
		&lastActivity,
		&endTime,
		&duration,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.Domain = nullableStringPtr(sessionDomain)
	session.ClientTimestamp = nullableTimePtr(clientTimestamp)
	session.CreatedAt = nullableTimePtr(createdAt)
	session.LastActivity = nullableTimePtr(lastActivity)
	session.EndTime = nullableTimePtr(endTime)
	session.Duration = nullableFloatPtr(duration)

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
