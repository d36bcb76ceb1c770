package notify

import (
	"context"
	"log/slog"

	"github.com/release-engineering/odcs/internal/metrics"
)

// LogSink records every event at info level — the minimal always-on sink.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink { return &LogSink{logger: logger} }

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(_ context.Context, e Event) error {
	s.logger.Info("compose state change", "compose_id", e.ComposeID, "state", e.State, "reason", e.Reason)
	return nil
}

// MetricsSink increments the per-state transition counter on a
// metrics.Recorder.
type MetricsSink struct {
	recorder metrics.Recorder
}

func NewMetricsSink(recorder metrics.Recorder) *MetricsSink { return &MetricsSink{recorder: recorder} }

func (s *MetricsSink) Name() string { return "metrics" }

func (s *MetricsSink) Notify(_ context.Context, e Event) error {
	s.recorder.ObserveTransition(string(e.State))
	return nil
}

// MessageBusSink publishes a JSON event through an injected Publisher,
// matching the transport-agnostic boundary spec.md §6 describes for
// message-bus publication ("treated abstractly").
type MessageBusSink struct {
	publisher Publisher
	topic     string
}

// Publisher is the minimal fire-and-forget transport ODCS publishes events
// through; a concrete message-bus client (e.g. AMQP, Kafka) implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

func NewMessageBusSink(publisher Publisher, topic string) *MessageBusSink {
	return &MessageBusSink{publisher: publisher, topic: topic}
}

func (s *MessageBusSink) Name() string { return "message_bus" }

func (s *MessageBusSink) Notify(ctx context.Context, e Event) error {
	payload, err := eventJSON(e)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, s.topic, payload)
}
