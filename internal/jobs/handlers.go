package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/atomic-shop/internal/events"
)

// Sweeper abandons idle carts; *cart.Service implements it.
type Sweeper interface {
	AbandonInactive(ctx context.Context) (int, error)
}

// Handlers processes the worker's task types.
type Handlers struct {
	Sweeper   Sweeper
	Notifiers []events.Notifier
	Log       *zerolog.Logger
}

func (h *Handlers) logger() *zerolog.Logger {
	if h.Log != nil {
		return h.Log
	}
	nop := zerolog.Nop()
	return &nop
}

// HandleAbandonSweep runs one abandonment sweep.
func (h *Handlers) HandleAbandonSweep(ctx context.Context, _ *asynq.Task) error {
	if h.Sweeper == nil {
		return fmt.Errorf("sweeper not configured: %w", asynq.SkipRetry)
	}
	n, err := h.Sweeper.AbandonInactive(ctx)
	if err != nil {
		return fmt.Errorf("abandon sweep: %w", err)
	}
	h.logger().Debug().Int("abandoned", n).Msg("abandon sweep task done")
	return nil
}

// HandleEventDelivery fans a domain event out to the worker's notifiers.
// A payload that cannot be decoded is dropped without retry.
func (h *Handlers) HandleEventDelivery(ctx context.Context, t *asynq.Task) error {
	ev, err := decodeEvent(t)
	if err != nil {
		h.logger().Error().Err(err).Msg("drop undecodable event task")
		return fmt.Errorf("decode event: %v: %w", err, asynq.SkipRetry)
	}
	var errs []error
	for _, n := range h.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mux routes task types to handlers.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAbandonSweep, h.HandleAbandonSweep)
	mux.HandleFunc(TypeEventDelivery, h.HandleEventDelivery)
	return mux
}

// RegisterSweep schedules the sweep on spec, falling back to DefaultSweepSpec.
func RegisterSweep(s *asynq.Scheduler, spec string) (string, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}
	return s.Register(spec, NewAbandonSweepTask(), asynq.Queue(QueueDefault))
}
