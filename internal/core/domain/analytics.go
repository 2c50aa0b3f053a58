package domain

import "time"

// AnalyticsEventType enumerates session lifecycle transitions.
type AnalyticsEventType string

const (
	// EventSessionStart is recorded once a session has been admitted and persisted.
	EventSessionStart AnalyticsEventType = "session_start"
	// EventSessionActivity is recorded for every heartbeat.
	EventSessionActivity AnalyticsEventType = "session_activity"
	// EventSessionEnd is recorded when a session is terminated.
	EventSessionEnd AnalyticsEventType = "session_end"
)

// AnalyticsEvent is an immutable record of a lifecycle transition.
type AnalyticsEvent struct {
	ID        string
	Timestamp time.Time
	EventType AnalyticsEventType
	AccountID string
	UserID    string
	SessionID string
	Domain    *string
	Duration  *float64
}

// NewAnalyticsEvent normalises a session snapshot into an analytics record.
// Duration is only carried for session_end events.
func NewAnalyticsEvent(id string, eventType AnalyticsEventType, session Session, at time.Time) AnalyticsEvent {
	snapshot := session.Clone()
	event := AnalyticsEvent{
		ID:        id,
		Timestamp: at.UTC(),
		EventType: eventType,
		AccountID: snapshot.AccountID,
		UserID:    snapshot.UserID,
		SessionID: snapshot.ID,
		Domain:    snapshot.Domain,
	}
	if eventType == EventSessionEnd {
		event.Duration = snapshot.Duration
	}
	return event
}
