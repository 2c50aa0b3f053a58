package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
)

// AnalyticsRecorder turns lifecycle transitions into analytics events.
type AnalyticsRecorder struct {
	log       port.AnalyticsLog
	publisher port.EventPublisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

// NewAnalyticsRecorder constructs a recorder writing to the analytics log and, when non-nil, the event publisher.
func NewAnalyticsRecorder(log port.AnalyticsLog, publisher port.EventPublisher, logger *zap.Logger) *AnalyticsRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsRecorder{
		log:       log,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (r *AnalyticsRecorder) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Record appends one event describing the session snapshot. Both sinks are attempted; any failure is
// returned wrapped in ErrAnalyticsAppend together with the event that was built.
func (r *AnalyticsRecorder) Record(ctx context.Context, eventType domain.AnalyticsEventType, session domain.Session) (domain.AnalyticsEvent, error) {
	event := domain.NewAnalyticsEvent(r.newID(), eventType, session, r.now())

	var errs []error
	if r.log == nil {
		errs = append(errs, errors.New("analytics log not configured"))
	} else if err := r.log.Append(ctx, event); err != nil {
		errs = append(errs, fmt.Errorf("append: %w", err))
	}

	if r.publisher != nil {
		if err := r.publisher.PublishSessionLifecycle(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}

	if len(errs) > 0 {
		return event, fmt.Errorf("%w: %w", ErrAnalyticsAppend, errors.Join(errs...))
	}

	r.logger.Debug("analytics event recorded",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("session_id", event.SessionID),
	)
	return event, nil
}
