package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrLimitReached indicates the account already has max_concurrent_users live sessions.
	ErrLimitReached = errors.New("maximum concurrent users reached")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreFailure wraps unexpected persistence errors.
	ErrStoreFailure = errors.New("session store failure")
	// ErrAnalyticsAppend marks a failed analytics write. It is reported alongside a successful result, never instead of one.
	ErrAnalyticsAppend = errors.New("analytics append failed")
	// ErrAdmissionBusy indicates the account admission lock could not be obtained in time.
	ErrAdmissionBusy = errors.New("admission lock unavailable")
	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")
)

// LimitReachedError carries the counts behind an ErrLimitReached rejection.
type LimitReachedError struct {
	ActiveCount int
	Limit       int
}

func (e *LimitReachedError) Error() string {
	return fmt.Sprintf("%s: %d of %d sessions active", ErrLimitReached.Error(), e.ActiveCount, e.Limit)
}

// Is lets errors.Is(err, ErrLimitReached) match.
func (e *LimitReachedError) Is(target error) bool {
	return target == ErrLimitReached
}
