package infrastructure

import (
	"context"
	"fmt"

	"creditflow/internal/billing"
	"creditflow/internal/config"
	"creditflow/internal/logger"
	"creditflow/internal/metrics"
	"creditflow/internal/repository"
	"creditflow/internal/service"
	transportGRPC "creditflow/internal/transport/grpc"
	transportHTTP "creditflow/internal/transport/http"
	transportNATS "creditflow/internal/transport/nats"
	"creditflow/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log := logger.New(logger.Options{
		ServiceName: cfg.App.ServiceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = log.WithField(ctx, "env", cfg.App.Env)

	var cleanupFns []func()
	fail := func(err error) (*App, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(reg)

	// 1. Store
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	cleanupFns = append(cleanupFns, closeStore)

	// 2. Cache
	var (
		cache    service.Cache
		redCache *repository.Cache
	)
	if cfg.RedisEnabled() {
		rdb, err := connectRedis(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		redCache = repository.NewCache(rdb, cfg.Redis.IdempotencyTTL)
		cache = redCache
	}

	svc, err := service.New(service.Options{
		Store:              store,
		Cache:              cache,
		Logger:             log,
		Metrics:            collector,
		RefundFailedAssets: cfg.Ledger.RefundFailedAssets,
	})
	if err != nil {
		return fail(err)
	}

	// 3. Bus and the consumers that share its connection
	var (
		bus     repository.MessageBus
		servers []Server
	)
	switch cfg.API.BusProvider {
	case config.BusProviderNats:
		nc, err := connectNats(cfg.NatsAddr(), cfg.App.ServiceName, log)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		cleanupFns = append(cleanupFns, nc.Close)
		bus = transportNATS.NewBus(nc)

		servers = append(servers,
			worker.NewStatusWorker(svc, nc, log),
			transportNATS.NewHandler(svc, nc, log),
		)

	case config.BusProviderGRPC:
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr())
		if err != nil {
			return fail(fmt.Errorf("dial grpc bus: %w", err))
		}
		cleanupFns = append(cleanupFns, cleanup)
		bus = grpcBus
	}

	relay, err := worker.NewOutboxRelay(worker.RelayParams{
		Store:        store,
		Bus:          bus,
		Logger:       log,
		Metrics:      collector,
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return fail(err)
	}
	servers = append(servers, relay)

	// 4. Inbound transports
	servers = append(servers, transportGRPC.NewServer(transportGRPC.ServerParams{
		Addr:       cfg.GRPCListenAddr(),
		Submission: svc,
		Ledger:     svc,
		Assets:     svc,
		Logger:     log,
	}))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		params := transportHTTP.HandlerParams{
			Submission: svc,
			Ledger:     svc,
			Assets:     svc,
			Health:     store,
			Gatherer:   reg,
			Logger:     log,
		}
		if cfg.Stripe.WebhookSecret != "" {
			stripeSvc, err := billing.NewStripeService(svc, log)
			if err != nil {
				return fail(err)
			}
			// A nil *repository.Cache must not become a non-nil guard.
			if redCache != nil {
				params.Webhook = transportHTTP.NewStripeWebhook(stripeSvc, cfg.Stripe.WebhookSecret, redCache, log)
			} else {
				params.Webhook = transportHTTP.NewStripeWebhook(stripeSvc, cfg.Stripe.WebhookSecret, nil, log)
			}
		}
		servers = append(servers, transportHTTP.NewServer(addr, transportHTTP.NewHandler(params)))
	} else {
		log.Info(ctx, apiErr.Error())
	}

	log.Info(log.WithFields(ctx, map[string]any{
		"store":   cfg.Store.Driver,
		"bus":     cfg.API.BusProvider,
		"redis":   cfg.RedisEnabled(),
		"servers": len(servers),
	}), "application wired")

	return NewApp(servers, log), runCleanup(cleanupFns), nil
}

func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (repository.Store, func(), error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn(ctx, "using in-memory store; data is lost on restart")
		store := repository.NewMemoryStore()
		return store, store.Close, nil
	}

	if cfg.Store.AutoMigrate {
		if err := repository.RunMigrations(ctx, cfg.DSN(), "up"); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	db, err := connectPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := repository.NewPostgresStore(db)
	return store, store.Close, nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
