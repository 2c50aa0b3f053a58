package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-gate/internal/core/domain"
)

// WarningAnalyticsAppendFailed is attached to successful responses whose analytics event was lost.
const WarningAnalyticsAppendFailed = "analytics_append_failed"

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// LimitReachedResponse is returned with 409 when an account is at capacity.
type LimitReachedResponse struct {
	ErrorResponse
	ActiveSessions     int `json:"active_sessions"`
	MaxConcurrentUsers int `json:"max_concurrent_users"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// FlexibleID accepts account ids sent either as JSON numbers or strings.
type FlexibleID string

func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("account id must be a string or number: %w", err)
	}
	if _, err := n.Int64(); err != nil {
		return fmt.Errorf("account id must be an integer: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

func (id FlexibleID) String() string {
	return string(id)
}

// StartSessionRequest is the browser extension's session start payload.
type StartSessionRequest struct {
	AccountID FlexibleID `json:"account_id"`
	Domain    *string    `json:"domain"`
	Timestamp *time.Time `json:"timestamp"`
}

// ActivityRequest carries the soft fields of a heartbeat.
type ActivityRequest struct {
	Domain    *string    `json:"domain"`
	Timestamp *time.Time `json:"timestamp"`
}

func (r ActivityRequest) toUpdate() domain.ActivityUpdate {
	return domain.ActivityUpdate{Domain: r.Domain, ClientTimestamp: r.Timestamp}
}

// EndSessionRequest identifies the account whose latest session should end.
type EndSessionRequest struct {
	AccountID FlexibleID `json:"account_id"`
	Domain    *string    `json:"domain,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SessionPayload is the API view of a session.
type SessionPayload struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	UserID          string     `json:"user_id"`
	Domain          *string    `json:"domain,omitempty"`
	ClientTimestamp *time.Time `json:"timestamp,omitempty"`
	Active          bool       `json:"active"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	Duration        *float64   `json:"duration,omitempty"`
}

func newSessionPayload(session domain.Session) SessionPayload {
	return SessionPayload{
		ID:              session.ID,
		AccountID:       session.AccountID,
		UserID:          session.UserID,
		Domain:          session.Domain,
		ClientTimestamp: session.ClientTimestamp,
		Active:          session.Active,
		CreatedAt:       session.CreatedAt,
		LastActivity:    session.LastActivity,
		EndTime:         session.EndTime,
		Duration:        session.Duration,
	}
}

// StartSessionResponse is returned with 201 once a session is admitted.
type StartSessionResponse struct {
	Message            string         `json:"message"`
	Session            SessionPayload `json:"session"`
	ActiveSessions     int            `json:"active_sessions"`
	MaxConcurrentUsers int            `json:"max_concurrent_users"`
	Warnings           []string       `json:"warnings,omitempty"`
}

// SessionMutationResponse is returned by heartbeat and end operations.
type SessionMutationResponse struct {
	Message      string         `json:"message"`
	Session      SessionPayload `json:"session"`
	AlreadyEnded bool           `json:"already_ended,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
}

// SessionListResponse lists an account's live sessions.
type SessionListResponse struct {
	AccountID      string           `json:"account_id"`
	ActiveSessions int              `json:"active_sessions"`
	Sessions       []SessionPayload `json:"sessions"`
}

// SessionStatusResponse answers whether the caller can start or keep a session.
type SessionStatusResponse struct {
	ActiveSession      bool `json:"active_session"`
	ActiveSessions     int  `json:"active_sessions"`
	MaxConcurrentUsers int  `json:"max_concurrent_users"`
	CanStart           bool `json:"can_start"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports the outcome of each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func warningsFor(analyticsErr error) []string {
	if analyticsErr == nil {
		return nil
	}
	return []string{WarningAnalyticsAppendFailed}
}
