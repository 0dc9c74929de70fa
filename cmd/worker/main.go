package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/atomic-shop/internal/app"
	"github.com/noah-isme/atomic-shop/internal/config"
	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/jobs"
	"github.com/noah-isme/atomic-shop/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	a, err := app.New(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise application")
	}
	defer a.Close()

	connOpt := app.RedisConnOpt(redisOpts)
	handlers := &jobs.Handlers{
		Sweeper:   a.Carts,
		Notifiers: []events.Notifier{events.LogNotifier{Log: &logger}, app.MetricsNotifier()},
		Log:       &logger,
	}

	srv := asynq.NewServer(connOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{jobs.QueueDefault: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
		ShutdownTimeout: 20 * time.Second,
	})
	if err := srv.Start(handlers.Mux()); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}

	scheduler := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{Location: time.UTC})
	entryID, err := jobs.RegisterSweep(scheduler, cfg.AbandonSweepSpec)
	if err != nil {
		logger.Fatal().Err(err).Msg("register abandon sweep")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().
		Str("sweep_entry", entryID).
		Str("sweep_spec", cfg.AbandonSweepSpec).
		Int("concurrency", cfg.WorkerConcurrency).
		Msg("worker started")

	<-ctx.Done()
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
}
