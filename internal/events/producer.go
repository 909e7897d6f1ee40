// Package events publishes best-effort task lifecycle events to Kafka
// for out-of-scope external consumers (export scripts, supervisors)
// named in spec.md §1/§6. A publish failure is logged and never fails
// the task it describes (spec.md §4.5 "[DOMAIN STACK]").
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/aiopslab/taskrunner/pkg/telemetry"
)

// TopicLifecycle is the durable export/audit stream of task transitions.
const TopicLifecycle = "tasks.lifecycle"

// EventType enumerates the lifecycle transitions the executor drives
// (spec.md §4.5 "[DOMAIN STACK]").
type EventType string

const (
	EventStarted          EventType = "started"
	EventLog              EventType = "log"
	EventConversationTurn EventType = "conversation_turn"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
	EventTimeout          EventType = "timeout"
	EventCancelled        EventType = "cancelled"
)

// LifecycleEvent is the wire shape published to TopicLifecycle.
type LifecycleEvent struct {
	Type      EventType      `json:"type"`
	TaskID    string         `json:"task_id"`
	WorkerID  string         `json:"worker_id,omitempty"`
	ProblemID string         `json:"problem_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Publisher is the narrow Kafka write surface events depends on.
type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewPublisher builds a Kafka writer for TopicLifecycle, matching the
// teacher's internal/kafka.NewProducer configuration.
func NewPublisher(brokers []string) Publisher {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  TopicLifecycle,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// Bus publishes LifecycleEvents best-effort.
type Bus struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewBus builds a Bus over publisher. publisher may be nil, in which
// case Publish is a no-op.
func NewBus(publisher Publisher, logger *slog.Logger) *Bus {
	return &Bus{publisher: publisher, logger: logger}
}

// Publish sends ev to TopicLifecycle. Failures are logged, not returned,
// so a Kafka outage never blocks task execution.
func (b *Bus) Publish(ctx context.Context, ev LifecycleEvent) {
	if b.publisher == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("failed to marshal lifecycle event", slog.String("error", err.Error()))
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type), "marshal_error").Inc()
		return
	}

	headers := make(HeaderCarrier, 0)
	otel.GetTextMapPropagator().Inject(ctx, &headers)

	err = b.publisher.WriteMessages(ctx, kafka.Message{
		Key:     []byte(ev.TaskID),
		Value:   payload,
		Headers: []kafka.Header(headers),
		Time:    ev.Timestamp,
	})
	if err != nil {
		b.logger.Warn("failed to publish lifecycle event",
			slog.String("task_id", ev.TaskID),
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type), "publish_error").Inc()
		return
	}
	telemetry.EventsPublishedTotal.WithLabelValues(string(ev.Type), "ok").Inc()
}

// Close releases the underlying Kafka writer, if any.
func (b *Bus) Close() error {
	if b.publisher == nil {
		return nil
	}
	if err := b.publisher.Close(); err != nil {
		return fmt.Errorf("close lifecycle event publisher: %w", err)
	}
	return nil
}
