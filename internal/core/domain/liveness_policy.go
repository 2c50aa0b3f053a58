package domain

import "time"

// DefaultInactivityTimeout is applied when no positive timeout is configured.
const DefaultInactivityTimeout = 30 * time.Minute

// LivenessPolicy decides whether a stored session still counts as active.
type LivenessPolicy struct {
	timeout time.Duration
}

// NewLivenessPolicy constructs a policy with the provided inactivity timeout, defaulting when non-positive.
func NewLivenessPolicy(timeout time.Duration) LivenessPolicy {
	if timeout <= 0 {
		timeout = DefaultInactivityTimeout
	}
	return LivenessPolicy{timeout: timeout}
}

// Timeout returns the configured inactivity window.
func (p LivenessPolicy) Timeout() time.Duration {
	if p.timeout <= 0 {
		return DefaultInactivityTimeout
	}
	return p.timeout
}

// IsActive reports whether the session is flagged active and has seen activity within the timeout window.
// Sessions without a last activity timestamp are never active.
func (p LivenessPolicy) IsActive(s Session, now time.Time) bool {
	if !s.Active || s.LastActivity == nil {
		return false
	}
	return s.LastActivity.After(now.Add(-p.Timeout()))
}

// FilterActive returns the subset of sessions that pass the liveness check at now.
func (p LivenessPolicy) FilterActive(sessions []Session, now time.Time) []Session {
	active := make([]Session, 0, len(sessions))
	for _, session := range sessions {
		if p.IsActive(session, now) {
			active = append(active, session)
		}
	}
	return active
}
