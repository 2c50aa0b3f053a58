package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/core/port"
	"github.com/arklim/session-gate/internal/infra/config"
)

const (
	schemaVersion = "1.0"
	// LifecycleTopic carries every session_start, session_activity and session_end event.
	LifecycleTopic = "session.lifecycle"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type lifecyclePayload struct {
	SessionID       string    `json:"session_id"`
	AccountID       string    `json:"account_id"`
	UserID          string    `json:"user_id"`
	Domain          *string   `json:"domain,omitempty"`
	DurationSeconds *float64  `json:"duration,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(LifecycleTopic),
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionLifecycle mirrors an analytics event onto the lifecycle topic, keyed by account id.
func (p *EventPublisher) PublishSessionLifecycle(ctx context.Context, event domain.AnalyticsEvent) error {
	payload := lifecyclePayload{
		SessionID:       event.SessionID,
		AccountID:       event.AccountID,
		UserID:          event.UserID,
		Domain:          event.Domain,
		DurationSeconds: event.Duration,
		OccurredAt:      event.Timestamp.UTC(),
	}

	return p.publish(ctx, event.ID, string(event.EventType), event.AccountID, event.UserID, event.Timestamp, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
