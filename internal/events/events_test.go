package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/config"
	"github.com/spec-kit/support-inbox/internal/domain"
)

func TestDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher(zap.NewNop())
	var calls []string
	d.Subscribe(EventActivityRecorded, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	d.Subscribe(EventActivityRecorded, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventMessageIngested, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventActivityRecorded}))
	assert.Equal(t, []string{"first", "second"}, calls)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaSinkForwardsActivity(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer, topic: "support.activities", timeout: time.Second, logger: zap.NewNop()}
	d := NewInMemoryDispatcher(nil)
	sink.Attach(d)

	event := Event{
		ID:             "evt-1",
		Type:           EventActivityRecorded,
		ShopID:         2,
		ConversationID: 42,
		Timestamp:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload:        ActivityPayload{ActivityID: 5, ActionType: domain.ActionStatusChange, FromValue: "open", ToValue: "resolved"},
	}
	require.NoError(t, d.Publish(context.Background(), event))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	assert.Equal(t, "support.activities", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "activity_recorded", decoded["type"])
	assert.Equal(t, "resolved", decoded["payload"].(map[string]any)["to_value"])
}

func TestKafkaSinkReturnsWriteError(t *testing.T) {
	sink := &KafkaSink{writer: &fakeWriter{err: errors.New("down")}, topic: "t", timeout: time.Second, logger: zap.NewNop()}
	assert.Error(t, sink.Handle(context.Background(), Event{Type: EventActivityRecorded}))
}

func TestNewKafkaSinkDisabledWithoutBrokers(t *testing.T) {
	sink := NewKafkaSink(config.KafkaConfig{}, zap.NewNop())
	assert.Nil(t, sink)
	assert.NoError(t, sink.Close())
	assert.NotPanics(t, func() { sink.Attach(NewInMemoryDispatcher(nil)) })
}
