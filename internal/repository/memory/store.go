// Package memory provides in-process implementations of the session store ports.
// It is used for development deployments and as the reference store in unit tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/repository"
)

// Store keeps sessions, accounts and the analytics log behind a single mutex.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
	order    []string
	accounts map[string]domain.Account
	events   []domain.AnalyticsEvent
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*domain.Session),
		accounts: make(map[string]domain.Account),
	}
}

// Sessions exposes the store as a port.SessionRepository.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{store: s}
}

// Accounts exposes the store as a port.AccountRepository.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// Analytics exposes the store as a port.AnalyticsLog.
func (s *Store) Analytics() *AnalyticsLog {
	return &AnalyticsLog{store: s}
}

// PutAccount seeds or replaces an account record.
func (s *Store) PutAccount(account domain.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if account.MaxConcurrentUsers != nil {
		limit := *account.MaxConcurrentUsers
		account.MaxConcurrentUsers = &limit
	}
	s.accounts[account.ID] = account
}

// Events returns a copy of the analytics log in append order.
func (s *Store) Events() []domain.AnalyticsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AnalyticsEvent, len(s.events))
	copy(out, s.events)
	return out
}

// SessionRepository implements port.SessionRepository on top of Store.
type SessionRepository struct {
	store *Store
}

// Create persists a new session.
func (r *SessionRepository) Create(_ context.Context, session domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, exists := r.store.sessions[session.ID]; exists {
		return repository.ErrDuplicate
	}
	stored := session.Clone()
	r.store.sessions[session.ID] = &stored
	r.store.order = append(r.store.order, session.ID)
	return nil
}

// Get fetches a session by identifier.
func (r *SessionRepository) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	session, ok := r.store.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := session.Clone()
	return &out, nil
}

// ListByAccount returns every session stored for the account, most recent activity first.
func (r *SessionRepository) ListByAccount(_ context.Context, accountID string) ([]domain.Session, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Session, 0)
	for _, id := range r.store.order {
		session := r.store.sessions[id]
		if session.AccountID != accountID {
			continue
		}
		result = append(result, session.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return lastActivity(result[i]).After(lastActivity(result[j]))
	})
	return result, nil
}

// Update applies mutate to a copy of the stored session and commits it when mutate succeeds.
func (r *SessionRepository) Update(_ context.Context, sessionID string, mutate func(*domain.Session) error) (*domain.Session, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.sessions[strings.TrimSpace(sessionID)]
	if !ok {
		return nil, repository.ErrNotFound
	}

	working := stored.Clone()
	if err := mutate(&working); err != nil {
		return nil, err
	}
	// identity is immutable regardless of what mutate did
	working.ID = stored.ID
	working.AccountID = stored.AccountID
	working.UserID = stored.UserID

	*stored = working.Clone()
	return &working, nil
}

// AccountRepository implements port.AccountRepository on top of Store.
type AccountRepository struct {
	store *Store
}

// Get fetches an account by identifier.
func (r *AccountRepository) Get(_ context.Context, accountID string) (*domain.Account, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	account, ok := r.store.accounts[strings.TrimSpace(accountID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if account.MaxConcurrentUsers != nil {
		limit := *account.MaxConcurrentUsers
		account.MaxConcurrentUsers = &limit
	}
	return &account, nil
}

// AnalyticsLog implements port.AnalyticsLog on top of Store.
type AnalyticsLog struct {
	store *Store
}

// Append adds the event to the end of the log.
func (l *AnalyticsLog) Append(_ context.Context, event domain.AnalyticsEvent) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()

	l.store.events = append(l.store.events, event)
	return nil
}

func lastActivity(s domain.Session) time.Time {
	if s.LastActivity == nil {
		return time.Time{}
	}
	return *s.LastActivity
}

var (
	_ port.SessionRepository = (*SessionRepository)(nil)
	_ port.AccountRepository = (*AccountRepository)(nil)
	_ port.AnalyticsLog      = (*AnalyticsLog)(nil)
)
