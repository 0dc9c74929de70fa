package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/jobs"
	"github.com/noah-isme/atomic-shop/internal/store"
)

type sweeperFunc func(context.Context) (int, error)

func (f sweeperFunc) AbandonInactive(ctx context.Context) (int, error) { return f(ctx) }

type enqueueStub struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (e *enqueueStub) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	e.opts = append(e.opts, opts)
	if e.err != nil {
		return nil, e.err
	}
	return &asynq.TaskInfo{ID: "x", Type: task.Type()}, nil
}

func sampleEvent() store.DomainEvent {
	return store.DomainEvent{
		ID:          uuid.New(),
		Topic:       events.TopicCartAbandoned,
		AggregateID: uuid.New(),
		Payload:     []byte(`{"cartId":"abc"}`),
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSweepTask(t *testing.T) {
	calls := 0
	h := &jobs.Handlers{Sweeper: sweeperFunc(func(context.Context) (int, error) {
		calls++
		return 3, nil
	})}
	task := jobs.NewAbandonSweepTask()
	require.Equal(t, jobs.TypeAbandonSweep, task.Type())
	require.NoError(t, h.HandleAbandonSweep(context.Background(), task))
	require.Equal(t, 1, calls)

	failing := &jobs.Handlers{Sweeper: sweeperFunc(func(context.Context) (int, error) {
		return 0, errors.New("db down")
	})}
	require.Error(t, failing.HandleAbandonSweep(context.Background(), task))

	err := (&jobs.Handlers{}).HandleAbandonSweep(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestEventDeliveryRoundTrip(t *testing.T) {
	ev := sampleEvent()
	task, err := jobs.NewEventTask(ev)
	require.NoError(t, err)
	require.Equal(t, jobs.TypeEventDelivery, task.Type())

	var got []store.DomainEvent
	h := &jobs.Handlers{Notifiers: []events.Notifier{
		events.NotifierFunc(func(_ context.Context, e store.DomainEvent) error {
			got = append(got, e)
			return nil
		}),
	}}
	require.NoError(t, h.HandleEventDelivery(context.Background(), task))
	require.Len(t, got, 1)
	require.Equal(t, ev.ID, got[0].ID)
	require.Equal(t, ev.Topic, got[0].Topic)
	require.Equal(t, ev.AggregateID, got[0].AggregateID)
	require.JSONEq(t, string(ev.Payload), string(got[0].Payload))
	require.True(t, ev.OccurredAt.Equal(got[0].OccurredAt))
}

func TestEventDeliveryErrors(t *testing.T) {
	h := &jobs.Handlers{Notifiers: []events.Notifier{
		events.NotifierFunc(func(context.Context, store.DomainEvent) error { return errors.New("boom") }),
	}}
	task, err := jobs.NewEventTask(sampleEvent())
	require.NoError(t, err)
	require.EqualError(t, h.HandleEventDelivery(context.Background(), task), "boom")

	bad := asynq.NewTask(jobs.TypeEventDelivery, []byte("{"))
	require.ErrorIs(t, h.HandleEventDelivery(context.Background(), bad), asynq.SkipRetry)

	_, err = jobs.NewEventTask(store.DomainEvent{})
	require.Error(t, err)
}

func TestSchedulerEnqueues(t *testing.T) {
	stub := &enqueueStub{}
	s := jobs.Scheduler{Client: stub}
	ev := sampleEvent()

	require.NoError(t, s.Schedule(context.Background(), ev))
	require.Len(t, stub.tasks, 1)
	require.Equal(t, jobs.TypeEventDelivery, stub.tasks[0].Type())
	require.Len(t, stub.opts[0], 2)

	stub.err = asynq.ErrTaskIDConflict
	require.NoError(t, s.Schedule(context.Background(), ev))

	stub.err = errors.New("redis unavailable")
	require.Error(t, s.Schedule(context.Background(), ev))

	require.Error(t, jobs.Scheduler{}.Schedule(context.Background(), ev))
}

func TestSchedulerFeedsBus(t *testing.T) {
	mem := store.NewMemory()
	stub := &enqueueStub{}
	bus := &events.Bus{Store: mem, Scheduler: jobs.Scheduler{Client: stub}}

	ctx := context.Background()
	ev, err := events.Record(ctx, mem, events.TopicOrderCreated, uuid.New(), map[string]any{"totalCents": 100})
	require.NoError(t, err)
	require.NoError(t, bus.Dispatch(ctx, ev))
	require.Len(t, stub.tasks, 1)
}

func TestMuxRoutesTasks(t *testing.T) {
	calls := 0
	h := &jobs.Handlers{Sweeper: sweeperFunc(func(context.Context) (int, error) {
		calls++
		return 0, nil
	})}
	require.NoError(t, h.Mux().ProcessTask(context.Background(), jobs.NewAbandonSweepTask()))
	require.Equal(t, 1, calls)
}
