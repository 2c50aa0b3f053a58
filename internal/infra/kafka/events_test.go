package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-gate/internal/core/domain"
	"github.com/arklim/session-gate/internal/infra/config"
)

type fakeAsyncProducer struct {
	input  chan *sarama.ProducerMessage
	errors chan *sarama.ProducerError
}

func newFakeAsyncProducer(buffer int) *fakeAsyncProducer {
	return &fakeAsyncProducer{
		input:  make(chan *sarama.ProducerMessage, buffer),
		errors: make(chan *sarama.ProducerError, 1),
	}
}

func (f *fakeAsyncProducer) AsyncClose() {}

func (f *fakeAsyncProducer) Close() error { return nil }

func (f *fakeAsyncProducer) Input() chan<- *sarama.ProducerMessage { return f.input }

func (f *fakeAsyncProducer) Successes() <-chan *sarama.ProducerMessage { return nil }

func (f *fakeAsyncProducer) Errors() <-chan *sarama.ProducerError { return f.errors }

func (f *fakeAsyncProducer) IsTransactional() bool { return false }

func (f *fakeAsyncProducer) BeginTxn() error { return nil }

func (f *fakeAsyncProducer) CommitTxn() error { return nil }

func (f *fakeAsyncProducer) AbortTxn() error { return nil }

func (f *fakeAsyncProducer) AddOffsetsToTxn(offsets map[string][]*sarama.PartitionOffsetMetadata, groupID string) error {
	return nil
}

func (f *fakeAsyncProducer) AddMessageToTxn(msg *sarama.ConsumerMessage, groupID string, metadata *string) error {
	return nil
}

func (f *fakeAsyncProducer) TxnStatus() sarama.ProducerTxnStatusFlag {
	return sarama.ProducerTxnStatusFlag(0)
}

func newTestPublisher(t *testing.T, asyncProducer *fakeAsyncProducer) (*EventPublisher, *Producer) {
	t.Helper()
	producer := newProducer(asyncProducer, config.KafkaSettings{TopicPrefix: "sessiongate"}, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = producer.Close() })

	publisher := NewEventPublisher(producer, config.AppSettings{
		Name: "session-gate",
		Env:  "test",
	}, zaptest.NewLogger(t))
	return publisher, producer
}

func TestPublishSessionLifecycle(t *testing.T) {
	asyncProducer := newFakeAsyncProducer(1)
	publisher, _ := newTestPublisher(t, asyncProducer)

	endedAt := time.Date(2025, 3, 1, 10, 10, 0, 0, time.UTC)
	duration := 600.0
	site := "example.com"
	event := domain.AnalyticsEvent{
		ID:        "event-123",
		Timestamp: endedAt,
		EventType: domain.EventSessionEnd,
		AccountID: "acct-1",
		UserID:    "alice@example.com",
		SessionID: "sess-456",
		Domain:    &site,
		Duration:  &duration,
	}

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	if err := publisher.PublishSessionLifecycle(ctx, event); err != nil {
		t.Fatalf("PublishSessionLifecycle returned error: %v", err)
	}

	select {
	case msg := <-asyncProducer.input:
		if msg.Topic != "sessiongate.session.lifecycle" {
			t.Fatalf("unexpected topic: %s", msg.Topic)
		}

		key, err := msg.Key.Encode()
		if err != nil || string(key) != "acct-1" {
			t.Fatalf("expected account id as message key, got %q (err %v)", key, err)
		}

		bytes, err := msg.Value.Encode()
		if err != nil {
			t.Fatalf("Value.Encode returned error: %v", err)
		}

		var envelope map[string]any
		if err := json.Unmarshal(bytes, &envelope); err != nil {
			t.Fatalf("failed to unmarshal envelope: %v", err)
		}

		if got := envelope["event_id"]; got != "event-123" {
			t.Fatalf("unexpected event_id: %v", got)
		}
		if got := envelope["event_type"]; got != "session_end" {
			t.Fatalf("unexpected event_type: %v", got)
		}
		if got := envelope["timestamp"]; got != endedAt.Format(time.RFC3339Nano) {
			t.Fatalf("unexpected timestamp: %v", got)
		}

		payload, ok := envelope["payload"].(map[string]any)
		if !ok {
			t.Fatalf("payload not a map: %T", envelope["payload"])
		}
		if payload["session_id"] != "sess-456" || payload["account_id"] != "acct-1" {
			t.Fatalf("unexpected payload identity: %v", payload)
		}
		if payload["domain"] != "example.com" {
			t.Fatalf("unexpected domain: %v", payload["domain"])
		}
		if got, ok := payload["duration"].(float64); !ok || got != 600 {
			t.Fatalf("unexpected duration: %v", payload["duration"])
		}

		metadata, ok := envelope["metadata"].(map[string]any)
		if !ok {
			t.Fatalf("envelope metadata not a map: %T", envelope["metadata"])
		}
		if metadata["service"] != "session-gate" || metadata["environment"] != "test" {
			t.Fatalf("unexpected metadata: %v", metadata)
		}
		if metadata["trace_id"] != traceID.String() {
			t.Fatalf("expected trace id %s, got %v", traceID, metadata["trace_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message on async producer input channel")
	}
}

func TestPublishSessionLifecycle_OmitsDurationForStart(t *testing.T) {
	asyncProducer := newFakeAsyncProducer(1)
	publisher, _ := newTestPublisher(t, asyncProducer)

	event := domain.AnalyticsEvent{
		ID:        "event-1",
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		EventType: domain.EventSessionStart,
		AccountID: "acct-1",
		UserID:    "alice@example.com",
		SessionID: "sess-1",
	}
	if err := publisher.PublishSessionLifecycle(context.Background(), event); err != nil {
		t.Fatalf("PublishSessionLifecycle returned error: %v", err)
	}

	msg := <-asyncProducer.input
	bytes, _ := msg.Value.Encode()
	var envelope struct {
		Metadata map[string]string `json:"metadata"`
		Payload  map[string]any    `json:"payload"`
	}
	if err := json.Unmarshal(bytes, &envelope); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if _, ok := envelope.Payload["duration"]; ok {
		t.Fatalf("start events must not carry a duration")
	}
	if _, ok := envelope.Payload["domain"]; ok {
		t.Fatalf("expected domain to be omitted when absent")
	}
	if _, ok := envelope.Metadata["trace_id"]; ok {
		t.Fatalf("expected no trace id without an active span")
	}
}

func TestPublishSessionLifecycle_RespectsContextWhenProducerBlocked(t *testing.T) {
	asyncProducer := newFakeAsyncProducer(0)
	publisher, _ := newTestPublisher(t, asyncProducer)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := publisher.PublishSessionLifecycle(ctx, domain.AnalyticsEvent{ID: "e", EventType: domain.EventSessionActivity})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestProducer_ForwardsDeliveryErrors(t *testing.T) {
	asyncProducer := newFakeAsyncProducer(1)
	_, producer := newTestPublisher(t, asyncProducer)

	deliveryErr := errors.New("leader not available")
	asyncProducer.errors <- &sarama.ProducerError{
		Msg: &sarama.ProducerMessage{Topic: "sessiongate.session.lifecycle"},
		Err: deliveryErr,
	}

	select {
	case err := <-producer.Errors():
		if !errors.Is(err, deliveryErr) {
			t.Fatalf("unexpected forwarded error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for forwarded producer error")
	}
}

func TestProducer_TopicName(t *testing.T) {
	producer := &Producer{cfg: config.KafkaSettings{TopicPrefix: "sessiongate"}}
	if got := producer.TopicName("session.lifecycle"); got != "sessiongate.session.lifecycle" {
		t.Fatalf("unexpected topic %s", got)
	}
	if got := producer.TopicName("sessiongate.session.lifecycle"); got != "sessiongate.session.lifecycle" {
		t.Fatalf("prefix must not be applied twice, got %s", got)
	}

	bare := &Producer{}
	if got := bare.TopicName("session.lifecycle"); got != "session.lifecycle" {
		t.Fatalf("unexpected topic without prefix %s", got)
	}
}

func TestStubPublisher_NeverFails(t *testing.T) {
	publisher := NewStubPublisher(zaptest.NewLogger(t))
	duration := 1.5
	if err := publisher.PublishSessionLifecycle(context.Background(), domain.AnalyticsEvent{
		ID:        "e",
		EventType: domain.EventSessionEnd,
		Duration:  &duration,
	}); err != nil {
		t.Fatalf("stub publisher returned error: %v", err)
	}
}
