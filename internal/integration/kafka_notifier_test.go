//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/meghanetra/acquisition-service/internal/notify"
)

const testStatusTopic = "test-acquisition-events"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka launches a single-node Kafka container and returns its broker
// address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("test-cluster"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// TestKafkaNotifierRoundTrip verifies that status events published by the
// Kafka sink arrive on the topic with the expected payload and headers.
func TestKafkaNotifierRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testStatusTopic)

	sink := notify.NewKafka([]string{broker}, testStatusTopic, discardLogger())
	t.Cleanup(func() { _ = sink.Close() })

	require.NoError(t, sink.Notify(ctx, notify.LevelError, "acquisition failed for gpm 2023-06",
		map[string]string{"dataset": "gpm", "error": "listing unreachable"}))
	require.NoError(t, sink.Notify(ctx, notify.LevelInfo, "completed: 4/4 items (100.0% success)", nil))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testStatusTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()

	first, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.Equal(t, []byte(notify.LevelError), first.Key)
	headers := make(map[string]string, len(first.Headers))
	for _, h := range first.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, notify.LevelError, headers["level"])
	_, err = time.Parse(time.RFC3339, headers["sent_at"])
	assert.NoError(t, err, "sent_at should be valid RFC3339")

	var event notify.Event
	require.NoError(t, json.Unmarshal(first.Value, &event))
	assert.Equal(t, notify.LevelError, event.Level)
	assert.Equal(t, "acquisition failed for gpm 2023-06", event.Message)
	assert.Equal(t, "gpm", event.Fields["dataset"])

	second, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(second.Value, &event))
	assert.Equal(t, notify.LevelInfo, event.Level)
	assert.Contains(t, event.Message, "completed: 4/4")
}
