// Package events persists domain events and fans them out to notifiers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/atomic-shop/internal/store"
)

// EventStore defines the persistence operations required by the event bus.
type EventStore interface {
	InsertDomainEvent(ctx context.Context, arg store.InsertDomainEventParams) (store.DomainEvent, error)
}

// DeliveryScheduler hands emitted events to the background worker.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, event store.DomainEvent) error
}

// Notifier reacts to emitted events (logs, metrics).
type Notifier interface {
	Notify(ctx context.Context, event store.DomainEvent) error
}

// Bus persists domain events and fans them out to downstream handlers.
type Bus struct {
	Store     EventStore
	Scheduler DeliveryScheduler
	Notifiers []Notifier
}

// Record persists an event through q without dispatching it. Services call it
// inside a transaction and Dispatch the result after commit.
func Record(ctx context.Context, q EventStore, topic string, aggregateID uuid.UUID, payload any) (store.DomainEvent, error) {
	if q == nil {
		return store.DomainEvent{}, errors.New("events: store not configured")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return store.DomainEvent{}, errors.New("events: topic is required")
	}
	if aggregateID == uuid.Nil {
		return store.DomainEvent{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return store.DomainEvent{}, fmt.Errorf("events: encode payload: %w", err)
	}
	ev, err := q.InsertDomainEvent(ctx, store.InsertDomainEventParams{
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     encoded,
	})
	if err != nil {
		return store.DomainEvent{}, fmt.Errorf("events: persist event: %w", err)
	}
	return ev, nil
}

// Dispatch fans an already stored event out to the scheduler and notifiers.
func (b *Bus) Dispatch(ctx context.Context, ev store.DomainEvent) error {
	if b == nil {
		return nil
	}
	var joined error
	if b.Scheduler != nil {
		if schedErr := b.Scheduler.Schedule(ctx, ev); schedErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: schedule deliveries: %w", schedErr))
		}
	}
	for _, notifier := range b.Notifiers {
		if notifier == nil {
			continue
		}
		if notifyErr := notifier.Notify(ctx, ev); notifyErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: notifier: %w", notifyErr))
		}
	}
	return joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		if len(v) == 0 {
			return []byte("{}"), nil
		}
		if !json.Valid(v) {
			return nil, errors.New("payload is not valid json")
		}
		return append([]byte(nil), v...), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		data := []byte(v)
		if !json.Valid(data) {
			return nil, errors.New("payload is not valid json")
		}
		return data, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
}
