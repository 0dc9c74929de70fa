// Package jobs defines the asynq tasks run by the worker: the periodic
// abandoned-cart sweep and out-of-band domain event delivery.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/noah-isme/atomic-shop/internal/store"
)

const (
	TypeAbandonSweep  = "cart:abandon_sweep"
	TypeEventDelivery = "events:deliver"

	// DefaultSweepSpec runs the sweep every fifteen minutes.
	DefaultSweepSpec = "@every 15m"
	// QueueDefault is the asynq queue both tasks are enqueued on.
	QueueDefault = "default"
)

// NewAbandonSweepTask builds the sweep task. Overlapping sweeps are harmless
// but wasteful, so a sweep is unique for its timeout window.
func NewAbandonSweepTask() *asynq.Task {
	return asynq.NewTask(TypeAbandonSweep, nil,
		asynq.MaxRetry(1),
		asynq.Timeout(5*time.Minute),
		asynq.Unique(5*time.Minute),
	)
}

// EventPayload is the wire form of a domain event handed to the worker.
type EventPayload struct {
	ID          uuid.UUID       `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID uuid.UUID       `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// NewEventTask wraps ev in a delivery task.
func NewEventTask(ev store.DomainEvent) (*asynq.Task, error) {
	if ev.ID == uuid.Nil || ev.Topic == "" {
		return nil, errors.New("jobs: event id and topic are required")
	}
	raw := json.RawMessage(ev.Payload)
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	body, err := json.Marshal(EventPayload{
		ID:          ev.ID,
		Topic:       ev.Topic,
		AggregateID: ev.AggregateID,
		Payload:     raw,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("jobs: encode event: %w", err)
	}
	return asynq.NewTask(TypeEventDelivery, body, asynq.MaxRetry(10), asynq.Timeout(30*time.Second)), nil
}

func decodeEvent(t *asynq.Task) (store.DomainEvent, error) {
	var p EventPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return store.DomainEvent{}, err
	}
	if p.ID == uuid.Nil || p.Topic == "" {
		return store.DomainEvent{}, errors.New("event id and topic are required")
	}
	return store.DomainEvent{
		ID:          p.ID,
		Topic:       p.Topic,
		AggregateID: p.AggregateID,
		Payload:     []byte(p.Payload),
		OccurredAt:  p.OccurredAt,
	}, nil
}

// Enqueuer is the subset of *asynq.Client the scheduler uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Scheduler hands domain events to the worker through asynq. It implements
// events.DeliveryScheduler.
type Scheduler struct {
	Client Enqueuer
	Queue  string
}

// Schedule enqueues ev once; the event id is the task id, so repeats are dropped.
func (s Scheduler) Schedule(ctx context.Context, ev store.DomainEvent) error {
	if s.Client == nil {
		return errors.New("jobs: asynq client not configured")
	}
	task, err := NewEventTask(ev)
	if err != nil {
		return err
	}
	queue := s.Queue
	if queue == "" {
		queue = QueueDefault
	}
	_, err = s.Client.EnqueueContext(ctx, task, asynq.TaskID(ev.ID.String()), asynq.Queue(queue))
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	return err
}
