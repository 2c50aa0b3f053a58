package port

import (
	"context"

	"github.com/arklim/session-gate/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	ListByAccount(ctx context.Context, accountID string) ([]domain.Session, error)
	// Update performs an atomic read-modify-write on a single session. When mutate returns an
	// error nothing is written and the error is returned unchanged.
	Update(ctx context.Context, sessionID string, mutate func(*domain.Session) error) (*domain.Session, error)
}

// AccountRepository resolves account records owned by the account service.
type AccountRepository interface {
	Get(ctx context.Context, accountID string) (*domain.Account, error)
}

// AnalyticsLog is the append-only store for lifecycle events.
type AnalyticsLog interface {
	Append(ctx context.Context, event domain.AnalyticsEvent) error
}

// AccountLocker serialises admissions for a single account. The returned release func must be called exactly once.
type AccountLocker interface {
	LockAccount(ctx context.Context, accountID string) (release func() error, err error)
}
