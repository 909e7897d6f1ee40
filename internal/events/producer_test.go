package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	sent []kafka.Message
	err  error
}

func (f *fakePublisher) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestBus_Publish_SendsEvent(t *testing.T) {
	pub := &fakePublisher{}
	bus := NewBus(pub, slog.Default())

	bus.Publish(context.Background(), LifecycleEvent{
		Type:   EventCompleted,
		TaskID: "task-1",
	})

	require.Len(t, pub.sent, 1)
	var got LifecycleEvent
	require.NoError(t, json.Unmarshal(pub.sent[0].Value, &got))
	assert.Equal(t, EventCompleted, got.Type)
	assert.Equal(t, "task-1", got.TaskID)
	assert.Equal(t, []byte("task-1"), pub.sent[0].Key)
}

func TestBus_Publish_NilPublisherIsNoop(t *testing.T) {
	bus := NewBus(nil, slog.Default())
	bus.Publish(context.Background(), LifecycleEvent{Type: EventStarted, TaskID: "task-2"})
	// No panic, nothing to assert beyond completion.
}

func TestBus_Publish_SwallowsError(t *testing.T) {
	pub := &fakePublisher{err: assert.AnError}
	bus := NewBus(pub, slog.Default())

	bus.Publish(context.Background(), LifecycleEvent{Type: EventFailed, TaskID: "task-3"})
	assert.Empty(t, pub.sent, "fakePublisher records nothing on error, but Publish must not panic or return an error")
}
