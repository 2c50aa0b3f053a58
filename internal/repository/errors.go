package repository

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrDuplicate indicates a record with the same identifier already exists.
	ErrDuplicate = errors.New("repository: duplicate")
	// ErrLockUnavailable signals an exclusive lock could not be acquired in time.
	ErrLockUnavailable = errors.New("repository: lock unavailable")
)
