package port

import (
	"context"
	"time"
)

// AttemptWindow describes a sliding window after an acquisition attempt.
type AttemptWindow struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// AttemptWindowStore enforces sliding-window attempt limits atomically.
type AttemptWindowStore interface {
	// Acquire drops attempts older than window, then records an attempt at the supplied time when fewer than
	// limit attempts remain in the window.
	Acquire(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (AttemptWindow, error)
}
