package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Kafka publishes events to a status topic so downstream consumers can react
// to acquisition outcomes.
type Kafka struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewKafka creates a producer for the status topic.
func NewKafka(brokers []string, topic string, logger *slog.Logger) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Kafka{writer: w, logger: logger}
}

func (k *Kafka) Notify(ctx context.Context, level, message string, fields map[string]string) error {
	msg, err := serializeToMessage(newEvent(level, message, fields))
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish status event: %w", err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// serializeToMessage marshals an Event into a Kafka message keyed by level.
func serializeToMessage(event Event) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize status event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.Level),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "level", Value: []byte(event.Level)},
			{Key: "sent_at", Value: []byte(event.SentAt.Format(time.RFC3339))},
		},
	}, nil
}
