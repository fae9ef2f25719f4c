package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from a channel and publishes them, so business
// operations never block on the broker. Events are dropped when the inbox is
// full; the trail is observability, not a system of record.
type Worker struct {
	publisher Publisher
	inbox     chan Event
	logger    *slog.Logger
}

func NewWorker(publisher Publisher, buffer int, logger *slog.Logger) *Worker {
	if buffer <= 0 {
		buffer = 256
	}
	return &Worker{
		publisher: publisher,
		inbox:     make(chan Event, buffer),
		logger:    logger,
	}
}

// Emit queues the event for background publishing. Never blocks.
func (w *Worker) Emit(ctx context.Context, event Event) error {
	select {
	case w.inbox <- event:
	default:
		if w.logger != nil {
			w.logger.WarnContext(ctx, "audit inbox full, event dropped", "kind", event.Kind)
		}
	}
	return nil
}

// Run drains the inbox until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.publisher.Emit(ctx, event); err != nil && w.logger != nil {
				w.logger.ErrorContext(ctx, "audit publish failed", "kind", event.Kind, "error", err)
			}
		}
	}
}
