// Package notify fans state-change events out to a set of append-only sinks
// (spec.md §5: "Logs, metrics, and message-bus publication are treated as
// append-only sinks and are best-effort"). Adapted from the teacher's
// plugin.Manager fail-open dispatch: every sink is tried, a failing sink is
// logged and skipped, and no sink failure ever affects compose processing.
package notify

import (
	"context"
	"log/slog"

	"github.com/release-engineering/odcs/internal/compose"
)

// Event describes one compose state transition worth publishing.
type Event struct {
	ComposeID int64
	State     compose.State
	Reason    string
}

// Sink receives Events. Implementations must not block significantly; a slow
// sink stalls the caller (Worker/Scheduler/Expirer), same as the teacher's
// synchronous plugin dispatch.
type Sink interface {
	Name() string
	Notify(ctx context.Context, e Event) error
}

// Notifier dispatches an Event to every registered Sink, logging and
// skipping any that error (fail-open).
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewNotifier creates a Notifier with the given logger.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Register adds a sink to the fan-out list.
func (n *Notifier) Register(s Sink) {
	n.sinks = append(n.sinks, s)
}

// Publish fans e out to every registered sink.
func (n *Notifier) Publish(ctx context.Context, e Event) {
	for _, s := range n.sinks {
		if err := s.Notify(ctx, e); err != nil {
			n.logger.Warn("notify sink error, skipping", "sink", s.Name(), "error", err, "compose_id", e.ComposeID)
		}
	}
}
