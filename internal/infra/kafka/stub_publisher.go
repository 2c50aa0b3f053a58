package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

// PublishSessionLifecycle logs the event at debug level.
func (p *StubPublisher) PublishSessionLifecycle(_ context.Context, event domain.AnalyticsEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("account_id", event.AccountID),
		zap.String("session_id", event.SessionID),
		zap.Time("timestamp", event.Timestamp.UTC()),
	}
	if event.Duration != nil {
		fields = append(fields, zap.Float64("duration_seconds", *event.Duration))
	}
	p.logger.Debug("stub lifecycle event published", fields...)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
