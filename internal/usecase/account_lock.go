package usecase

import (
	"context"
	"sync"

	"github.com/arklim/session-gate/internal/core/port"
)

type accountLock struct {
	sem  chan struct{}
	refs int
}

// LocalAccountLocker serialises admissions per account within a single process.
// Entries are dropped once no caller holds or waits for them.
type LocalAccountLocker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

// NewLocalAccountLocker constructs an empty locker.
func NewLocalAccountLocker() *LocalAccountLocker {
	return &LocalAccountLocker{locks: make(map[string]*accountLock)}
}

// LockAccount blocks until the account lock is held or ctx is done.
func (l *LocalAccountLocker) LockAccount(ctx context.Context, accountID string) (func() error, error) {
	entry := l.acquireRef(accountID)

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		l.releaseRef(accountID, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() error {
		once.Do(func() {
			<-entry.sem
			l.releaseRef(accountID, entry)
		})
		return nil
	}, nil
}

func (l *LocalAccountLocker) acquireRef(accountID string) *accountLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[accountID]
	if !ok {
		entry = &accountLock{sem: make(chan struct{}, 1)}
		l.locks[accountID] = entry
	}
	entry.refs++
	return entry
}

func (l *LocalAccountLocker) releaseRef(accountID string, entry *accountLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, accountID)
	}
}

func (l *LocalAccountLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ port.AccountLocker = (*LocalAccountLocker)(nil)
