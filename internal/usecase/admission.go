package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

// AdmissionDecision reports whether one more session fits under the account limit.
type AdmissionDecision struct {
	Allowed     bool
	ActiveCount int
	Limit       int
}

// AdmissionEngine evaluates admission against a read-only snapshot of the account's sessions.
// It never writes; callers that act on a decision must hold the account lock.
type AdmissionEngine struct {
	accounts port.AccountRepository
	sessions port.SessionRepository
	policy   domain.LivenessPolicy
	now      func() time.Time
}

// NewAdmissionEngine constructs an AdmissionEngine.
func NewAdmissionEngine(accounts port.AccountRepository, sessions port.SessionRepository, policy domain.LivenessPolicy) *AdmissionEngine {
	return &AdmissionEngine{
		accounts: accounts,
		sessions: sessions,
		policy:   policy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (e *AdmissionEngine) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// CanAdmit decides whether a new session may start for the account.
func (e *AdmissionEngine) CanAdmit(ctx context.Context, accountID string) (AdmissionDecision, error) {
	decision, _, err := e.Evaluate(ctx, accountID)
	return decision, err
}

// Evaluate returns the admission decision together with the live sessions it was based on.
func (e *AdmissionEngine) Evaluate(ctx context.Context, accountID string) (AdmissionDecision, []domain.Session, error) {
	account, err := e.accounts.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AdmissionDecision{}, nil, ErrAccountNotFound
		}
		return AdmissionDecision{}, nil, fmt.Errorf("%w: get account: %w", ErrStoreFailure, err)
	}

	stored, err := e.sessions.ListByAccount(ctx, accountID)
	if err != nil {
		return AdmissionDecision{}, nil, fmt.Errorf("%w: list sessions: %w", ErrStoreFailure, err)
	}

	active := e.policy.FilterActive(stored, e.now())
	limit := account.ResolveMaxConcurrentUsers()

	return AdmissionDecision{
		Allowed:     len(active) < limit,
		ActiveCount: len(active),
		Limit:       limit,
	}, active, nil
}
