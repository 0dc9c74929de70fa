package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/store"
)

type captureScheduler struct {
	events []store.DomainEvent
	err    error
}

func (c *captureScheduler) Schedule(_ context.Context, event store.DomainEvent) error {
	c.events = append(c.events, event)
	return c.err
}

type captureNotifier struct {
	events []store.DomainEvent
}

func (c *captureNotifier) Notify(_ context.Context, event store.DomainEvent) error {
	c.events = append(c.events, event)
	return nil
}

func TestRecordThenDispatch(t *testing.T) {
	mem := store.NewMemory()
	scheduler := &captureScheduler{}
	notifier := &captureNotifier{}
	bus := events.Bus{
		Store:     mem,
		Scheduler: scheduler,
		Notifiers: []events.Notifier{notifier},
	}

	ctx := context.Background()
	aggregate := uuid.New()
	event, err := events.Record(ctx, mem, events.TopicOrderCreated, aggregate, map[string]any{"orderId": "123"})
	require.NoError(t, err)
	require.Empty(t, notifier.events)
	require.NoError(t, bus.Dispatch(ctx, event))
	require.Equal(t, events.TopicOrderCreated, event.Topic)
	require.Equal(t, aggregate, event.AggregateID)
	require.Len(t, scheduler.events, 1)
	require.Len(t, notifier.events, 1)
	require.Equal(t, event.ID, scheduler.events[0].ID)
	require.Len(t, mem.Events(), 1)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &decoded))
	require.Equal(t, "123", decoded["orderId"])
}

func TestRecordValidatesInput(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	_, err := events.Record(ctx, mem, " ", uuid.New(), nil)
	require.Error(t, err)
	_, err = events.Record(ctx, mem, events.TopicCartAbandoned, uuid.Nil, nil)
	require.Error(t, err)
	_, err = events.Record(ctx, mem, events.TopicCartAbandoned, uuid.New(), "not json")
	require.Error(t, err)
	_, err = events.Record(ctx, nil, events.TopicCartAbandoned, uuid.New(), nil)
	require.Error(t, err)
	require.Empty(t, mem.Events())

	var nilBus *events.Bus
	require.NoError(t, nilBus.Dispatch(ctx, store.DomainEvent{}))
}

func TestDispatchJoinsErrors(t *testing.T) {
	mem := store.NewMemory()
	boom := errors.New("queue down")
	notifier := &captureNotifier{}
	bus := events.Bus{Store: mem, Scheduler: &captureScheduler{err: boom}, Notifiers: []events.Notifier{notifier}}
	ctx := context.Background()

	ev, err := events.Record(ctx, mem, events.TopicInventoryLowStock, uuid.New(), nil)
	require.NoError(t, err)
	err = bus.Dispatch(ctx, ev)
	require.ErrorIs(t, err, boom)
	require.JSONEq(t, `{}`, string(ev.Payload))
	require.Len(t, notifier.events, 1)
	require.Len(t, mem.Events(), 1)
}

func TestRecordJoinsTransaction(t *testing.T) {
	mem := store.NewMemory()
	notifier := &captureNotifier{}
	bus := &events.Bus{Store: mem, Notifiers: []events.Notifier{notifier}}
	ctx := context.Background()

	err := mem.InTx(ctx, func(q store.Querier) error {
		if _, err := events.Record(ctx, q, events.TopicCartCompleted, uuid.New(), nil); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	require.Empty(t, mem.Events())
	require.Empty(t, notifier.events)

	var recorded store.DomainEvent
	err = mem.InTx(ctx, func(q store.Querier) error {
		var err error
		recorded, err = events.Record(ctx, q, events.TopicCartCompleted, uuid.New(), map[string]int{"items": 2})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, bus.Dispatch(ctx, recorded))
	require.Len(t, mem.Events(), 1)
	require.Len(t, notifier.events, 1)
}
