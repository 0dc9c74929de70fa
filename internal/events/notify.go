package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/noah-isme/atomic-shop/internal/store"
)

// LogNotifier writes every event to the structured log.
type LogNotifier struct {
	Log *zerolog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(_ context.Context, ev store.DomainEvent) error {
	if n.Log == nil {
		return nil
	}
	n.Log.Info().
		Str("event_id", ev.ID.String()).
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID.String()).
		RawJSON("payload", ev.Payload).
		Msg("domain event")
	return nil
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev store.DomainEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev store.DomainEvent) error {
	return f(ctx, ev)
}
