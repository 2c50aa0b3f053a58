package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
)

// AnalyticsRepository is the append-only PostgreSQL analytics log.
type AnalyticsRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAnalyticsRepository constructs an AnalyticsRepository.
func NewAnalyticsRepository(exec pgExecutor) *AnalyticsRepository {
	return &AnalyticsRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// Append inserts the event.
func (r *AnalyticsRepository) Append(ctx context.Context, event domain.AnalyticsEvent) error {
	sqlStmt, args, err := r.builder.Insert(table("analytics_events")).
		Columns(
			"id",
			"event_type",
			"account_id",
			"user_id",
			"session_id",
			"domain",
			"duration_seconds",
			"occurred_at",
		).
		Values(
			event.ID,
			string(event.EventType),
			event.AccountID,
			event.UserID,
			event.SessionID,
			optionalString(event.Domain),
			optionalFloat(event.Duration),
			event.Timestamp.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert analytics event sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

var _ port.AnalyticsLog = (*AnalyticsRepository)(nil)
