package domain

import "time"

// Session represents a single user's engagement window under an account.
type Session struct {
	ID              string
	AccountID       string
	UserID          string
	Domain          *string
	ClientTimestamp *time.Time
	Active          bool
	CreatedAt       *time.Time
	LastActivity    *time.Time
	EndTime         *time.Time
	Duration        *float64
}

// NewSession builds an active session stamped with the supplied creation time.
func NewSession(id, accountID, userID string, at time.Time) Session {
	created := at
	lastActivity := at
	return Session{
		ID:           id,
		AccountID:    accountID,
		UserID:       userID,
		Active:       true,
		CreatedAt:    &created,
		LastActivity: &lastActivity,
	}
}

// IsTerminated reports whether the session was explicitly ended.
func (s Session) IsTerminated() bool {
	return !s.Active && s.EndTime != nil
}

// Touch refreshes the last activity timestamp.
func (s *Session) Touch(at time.Time) {
	lastActivity := at
	s.LastActivity = &lastActivity
}

// ApplyActivity merges the soft fields of an activity update into the session.
// Identity fields (account, user) are never part of an update.
func (s *Session) ApplyActivity(update ActivityUpdate) {
	if update.Domain != nil {
		domain := *update.Domain
		s.Domain = &domain
	}
	if update.ClientTimestamp != nil {
		ts := update.ClientTimestamp.UTC()
		s.ClientTimestamp = &ts
	}
}

// End terminates the session at the supplied moment and computes its duration.
// Returns false when the session had already been terminated; the record is left untouched.
func (s *Session) End(at time.Time) bool {
	if s.IsTerminated() {
		return false
	}
	end := at
	s.Active = false
	s.EndTime = &end
	if s.CreatedAt != nil {
		duration := end.Sub(*s.CreatedAt).Seconds()
		s.Duration = &duration
	}
	return true
}

// Clone returns a deep copy so callers can hand out sessions without sharing optional fields.
func (s Session) Clone() Session {
	out := s
	out.Domain = cloneString(s.Domain)
	out.ClientTimestamp = cloneTime(s.ClientTimestamp)
	out.CreatedAt = cloneTime(s.CreatedAt)
	out.LastActivity = cloneTime(s.LastActivity)
	out.EndTime = cloneTime(s.EndTime)
	if s.Duration != nil {
		d := *s.Duration
		out.Duration = &d
	}
	return out
}

// ActivityUpdate lists the fields a heartbeat may change.
type ActivityUpdate struct {
	Domain          *string
	ClientTimestamp *time.Time
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
