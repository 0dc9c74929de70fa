// Package app assembles the cart service from configuration: store, Redis,
// services, background task client and the HTTP router.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"

	"github.com/noah-isme/atomic-shop/internal/cart"
	"github.com/noah-isme/atomic-shop/internal/catalog"
	"github.com/noah-isme/atomic-shop/internal/checkout"
	"github.com/noah-isme/atomic-shop/internal/common"
	"github.com/noah-isme/atomic-shop/internal/config"
	"github.com/noah-isme/atomic-shop/internal/events"
	"github.com/noah-isme/atomic-shop/internal/health"
	"github.com/noah-isme/atomic-shop/internal/inventory"
	"github.com/noah-isme/atomic-shop/internal/jobs"
	"github.com/noah-isme/atomic-shop/internal/lock"
	"github.com/noah-isme/atomic-shop/internal/obs"
	"github.com/noah-isme/atomic-shop/internal/order"
	"github.com/noah-isme/atomic-shop/internal/pricing"
	"github.com/noah-isme/atomic-shop/internal/ratelimit"
	"github.com/noah-isme/atomic-shop/internal/resilience"
	"github.com/noah-isme/atomic-shop/internal/security"
	"github.com/noah-isme/atomic-shop/internal/shipping"
	"github.com/noah-isme/atomic-shop/internal/store"
)

// App holds the wired dependencies shared by the API and the worker.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store   store.Store
	DB      health.Pinger
	Redis   *redis.Client
	Tasks   *asynq.Client
	Limiter *limiter.Limiter

	Events   *events.Bus
	Catalog  *catalog.Service
	Shipping *shipping.Service
	Carts    *cart.Service
	Checkout *checkout.Service

	closers []func()
}

// New connects the backing services and builds every domain service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	a := &App{Config: cfg, Log: logger}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildServices(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.UseMemoryStore() {
		mem := store.NewMemory()
		a.Store, a.DB = mem, mem
		a.Log.Warn().Msg("using in-memory store; data is lost on restart")
		return nil
	}
	if a.Config.DBAutoMigrate {
		if err := store.Migrate(a.Config.DatabaseURL); err != nil {
			return err
		}
		a.Log.Info().Msg("database migrations applied")
	}
	poolConfig, err := pgxpool.ParseConfig(a.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "atomic-shop"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	db := store.NewDB(pool)
	a.Store, a.DB = db, db
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	if a.Config.RedisURL == "" {
		a.Log.Warn().Msg("REDIS_URL not set; caching, idempotency and distributed locks are disabled")
		return nil
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		a.Log.Error().Err(err).Msg("instrument redis tracing")
	}
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.Log.Error().Err(err).Msg("close redis")
		}
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	a.Redis = client

	tasks := asynq.NewClient(RedisConnOpt(opts))
	a.closers = append(a.closers, func() { _ = tasks.Close() })
	a.Tasks = tasks
	return nil
}

// RedisConnOpt converts go-redis options into the asynq connection option.
func RedisConnOpt(opts *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Network:   opts.Network,
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}
}

func (a *App) buildServices() error {
	cfg := a.Config
	logger := a.Log

	a.Events = &events.Bus{
		Store: a.Store,
		Notifiers: []events.Notifier{MetricsNotifier()},
	}
	if a.Tasks != nil {
		a.Events.Scheduler = jobs.Scheduler{Client: a.Tasks}
	} else {
		a.Events.Notifiers = append(a.Events.Notifiers, events.LogNotifier{Log: &logger})
	}

	cacheBreaker := resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("variant_cache").WithLogger(&logger)
	var err error
	a.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Queries:           a.Store,
		Cache:             catalog.NewCache(a.Redis, cfg.VariantCacheTTL).WithBreaker(cacheBreaker),
		LowStockThreshold: cfg.LowStockThreshold,
		Logger:            &logger,
	})
	if err != nil {
		return err
	}
	a.Shipping = &shipping.Service{Q: a.Store}
	a.Carts = &cart.Service{
		Store: a.Store,
		Pricing: pricing.Calculator{
			Rules:                 cfg.DiscountRules(),
			TaxRate:               cfg.TaxRate,
			Policy:                cfg.DiscountPolicy,
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			Currency:              cfg.Currency,
		},
		Validator:    cart.Validator{MaxTotalItems: cfg.CartMaxTotalItems, MaxLineItems: cfg.CartMaxLineItems},
		Shipping:     a.Shipping,
		Events:       a.Events,
		Log:          &logger,
		AbandonAfter: cfg.AbandonAfter,
	}

	var locker checkout.Locker = lock.NewLocal()
	if a.Redis != nil {
		locker = lock.Locker{R: a.Redis, Prefix: "lock:", RetryBackoff: cfg.LockRetryBackoff}
	}
	a.Checkout = &checkout.Service{
		Store:    a.Store,
		Carts:    a.Carts,
		Guard:    inventory.Guard{LowStockThreshold: cfg.LowStockThreshold},
		Catalog:  a.Catalog,
		Locker:   locker,
		LockTTL:  cfg.LockTTL,
		Events:   a.Events,
		Log:      &logger,
		Currency: cfg.Currency,
	}

	a.Limiter, err = ratelimit.New(cfg.RateLimit, a.Redis, "ratelimit")
	return err
}

// MetricsNotifier counts events per topic in the process that sees them.
func MetricsNotifier() events.Notifier {
	return events.NotifierFunc(func(_ context.Context, ev store.DomainEvent) error {
		obs.ObserveDomainEvent(ev.Topic)
		return nil
	})
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// RouterOptions toggles the observability middleware.
type RouterOptions struct {
	Metrics *obs.HTTPMetrics
	Tracing bool
}

// Router builds the HTTP surface.
func (a *App) Router(opts RouterOptions) http.Handler {
	cfg := a.Config
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(security.Headers{Enable: cfg.SecurityHeaders, EnableHSTS: cfg.EnableHSTS}.Middleware)
	r.Use(obs.RoutePatternMiddleware)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.Metrics}.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", cart.UserHeader, cart.SessionHeader, common.IdempotencyHeader},
		ExposedHeaders:   []string{cart.SessionHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	requestLog := obs.RequestLogger{Logger: a.Log}.Middleware
	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	healthHandler := health.Handler{Checker: health.Probes{DB: a.DB, Redis: a.Redis}}
	r.With(requestLog).Get("/health/live", healthHandler.Live)
	r.With(requestLog).Get("/health/ready", healthHandler.Ready)

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: a.Catalog})
	shippingHandler := &shipping.Handler{Svc: a.Shipping, Threshold: cfg.FreeShippingThreshold, Log: &a.Log}
	cartHandler := &cart.Handler{Svc: a.Carts}
	checkoutHandler := &checkout.Handler{Svc: a.Checkout}
	orderHandler := &order.Handler{Q: a.Store}
	idem := common.Idem{R: a.Redis, TTL: cfg.IdempotencyTTL}
	limit := ratelimit.Handler{
		Limiter: a.Limiter,
		OnError: func(err error) { a.Log.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	owner := cart.OwnerMiddleware{CookieName: cfg.CartSessionCookie, Secure: cfg.CookieSecure}

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		v.Use(owner.Middleware)
		v.Use(requestLog)

		v.Get("/variants/{id}", catalogHandler.Variant)
		v.Get("/shipping/methods", shippingHandler.List)
		v.Get("/orders/{id}", orderHandler.Get)

		v.Route("/cart", func(c chi.Router) {
			c.Get("/", cartHandler.Get)
			c.Get("/totals", cartHandler.Totals)
			c.Get("/discounts", cartHandler.Discounts)
			c.Get("/validation", cartHandler.Validation)
			c.Group(func(g chi.Router) {
				g.Use(limit.Middleware)
				g.Use(idem.Middleware)
				g.Delete("/", cartHandler.Clear)
				g.Post("/items", cartHandler.AddItem)
				g.Patch("/items/{itemId}", cartHandler.UpdateItem)
				g.Delete("/items/{itemId}", cartHandler.RemoveItem)
				g.Post("/shipping/estimate", cartHandler.EstimateShipping)
				g.Post("/merge", cartHandler.Merge)
				g.Post("/checkout", checkoutHandler.Checkout)
			})
		})
	})
	return r
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
