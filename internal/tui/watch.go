package tui

import (
	"context"
	"log/slog"

	"github.com/joescharf/ticketdesk/internal/events"
)

// Subscriber streams server change events. *client.Client satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(events.Event)) error
}

// WatchChanges turns the event stream into a change signal for Options.Changes.
// Bursts collapse into one pending signal since every refresh refetches the
// whole collection. The channel closes when the subscription ends.
func WatchChanges(ctx context.Context, sub Subscriber) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		err := sub.Subscribe(ctx, func(events.Event) {
			select {
			case ch <- struct{}{}:
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("event stream ended, falling back to polling", "error", err)
		}
	}()
	return ch
}
