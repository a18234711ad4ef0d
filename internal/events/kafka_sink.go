package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/spec-kit/support-inbox/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards dispatched events to a Kafka topic keyed by conversation.
type KafkaSink struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewKafkaSink returns nil when no brokers are configured.
func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSink {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer, topic: cfg.ActivityTopic, timeout: 5 * time.Second, logger: logger}
}

// Attach subscribes the sink to every event type it forwards.
func (s *KafkaSink) Attach(d Dispatcher) {
	if s == nil {
		return
	}
	for _, eventType := range []EventType{EventActivityRecorded, EventConversationCreated, EventMessageIngested} {
		d.Subscribe(eventType, s.Handle)
	}
}

// Handle writes one event. Failures are logged and returned to the dispatcher.
func (s *KafkaSink) Handle(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := kafka.Message{
		Topic: s.topic,
		Key:   []byte(strconv.FormatInt(event.ConversationID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "shop_id", Value: []byte(strconv.FormatInt(event.ShopID, 10))},
		},
		Time: event.Timestamp,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("publish event to kafka",
			zap.String("topic", s.topic),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	if s == nil {
		return nil
	}
	return s.writer.Close()
}
