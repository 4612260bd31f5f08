// Package notify delivers pipeline status events to operators. The console
// sink is always on; the Kafka sink is enabled when brokers are configured.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

// Severity levels for events.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Event is one status notification.
type Event struct {
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	SentAt  time.Time         `json:"sent_at"`
}

// Notifier is a sink for pipeline status events.
type Notifier interface {
	Notify(ctx context.Context, level, message string, fields map[string]string) error
	Close() error
}

// Console logs events through the structured logger.
type Console struct {
	logger *slog.Logger
}

func NewConsole(logger *slog.Logger) *Console {
	return &Console{logger: logger}
}

func (c *Console) Notify(_ context.Context, level, message string, fields map[string]string) error {
	attrs := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	switch level {
	case LevelError:
		c.logger.Error(message, attrs...)
	case LevelWarning:
		c.logger.Warn(message, attrs...)
	default:
		c.logger.Info(message, attrs...)
	}
	return nil
}

func (c *Console) Close() error { return nil }

// Multi fans one event out to every sink. Delivery failures of one sink do
// not stop the others; the first error is returned.
type Multi struct {
	sinks []Notifier
}

func NewMulti(sinks ...Notifier) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Notify(ctx context.Context, level, message string, fields map[string]string) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Notify(ctx, level, message, fields); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func newEvent(level, message string, fields map[string]string) Event {
	return Event{
		Level:   level,
		Message: message,
		Fields:  fields,
		SentAt:  domain.Now().UTC(),
	}
}
