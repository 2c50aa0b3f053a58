package port

import (
	"context"

	"github.com/arklim/session-gate/internal/core/domain"
)

// EventPublisher publishes session lifecycle events to the message bus.
type EventPublisher interface {
	PublishSessionLifecycle(ctx context.Context, event domain.AnalyticsEvent) error
}

// SessionMetrics captures telemetry hooks for admission and lifecycle flows.
type SessionMetrics interface {
	ObserveAdmission(outcome string)
	IncLifecycleEvent(eventType domain.AnalyticsEventType)
	IncAnalyticsFailure(eventType domain.AnalyticsEventType)
}
