package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	ledgerservice "boostpanel/contexts/finance-core/ledger-service"
	ledgerpostgres "boostpanel/contexts/finance-core/ledger-service/adapters/postgres"
	orderservice "boostpanel/contexts/fulfillment/order-service"
	"boostpanel/contexts/fulfillment/order-service/adapters/httpcounter"
	"boostpanel/contexts/fulfillment/order-service/adapters/notify"
	orderpostgres "boostpanel/contexts/fulfillment/order-service/adapters/postgres"
	"boostpanel/contexts/fulfillment/order-service/adapters/progresscache"
	trafficbridge "boostpanel/contexts/fulfillment/order-service/adapters/traffic"
	orderworkers "boostpanel/contexts/fulfillment/order-service/application/workers"
	trafficservice "boostpanel/contexts/fulfillment/traffic-service"
	"boostpanel/contexts/fulfillment/traffic-service/adapters/httpbroker"
	trafficpostgres "boostpanel/contexts/fulfillment/traffic-service/adapters/postgres"
	"boostpanel/internal/platform/cache"
	"boostpanel/internal/platform/config"
	"boostpanel/internal/platform/db"
	"boostpanel/internal/platform/httpserver"
	"boostpanel/internal/platform/messaging"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server   *httpserver.Server
	postgres *db.Postgres
	redis    *cache.Redis
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres *db.Postgres
	redis    *cache.Redis

	consumer orderworkers.CreatedConsumer
	monitor  orderworkers.ProgressMonitor
	verifier orderworkers.DeliveryVerifier

	monitorInterval time.Duration
	logger          *slog.Logger
}

type runtime struct {
	cfg      config.Config
	postgres *db.Postgres
	redis    *cache.Redis
	bus      messaging.Bus
	dedup    messaging.DedupStore

	ledger  ledgerservice.Module
	traffic trafficservice.Module
	orders  orderservice.Module
}

func buildRuntime(process string) (*runtime, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", process)
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}

	rt := &runtime{cfg: cfg, postgres: pg}

	// Progress/retry state and consumer dedup share one keyed store. Redis
	// keeps them across restarts; the memory driver covers single-node runs.
	var progressStore cache.Store
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		redisStore, err := cache.NewRedis(cfg.RedisAddr)
		if err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
		rt.redis = redisStore
		progressStore = redisStore
		rt.dedup = redisStore
	} else {
		memoryStore := cache.NewMemory()
		progressStore = memoryStore
		rt.dedup = memoryStore
	}

	bus, err := buildBus(cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	rt.bus = bus

	ledgerRepo := ledgerpostgres.NewRepository(pg.DB, logger)
	rt.ledger = ledgerservice.NewModule(ledgerservice.Dependencies{
		Repository:  ledgerRepo,
		Clock:       ledgerpostgres.SystemClock{},
		IDGenerator: ledgerpostgres.UUIDGenerator{},
		MaxRetries:  cfg.LedgerMaxRetries,
		Logger:      logger,
	})

	trafficRepo := trafficpostgres.NewRepository(pg.DB, logger)
	rt.traffic = trafficservice.NewModule(trafficservice.Dependencies{
		Repository:   trafficRepo,
		Broker:       httpbroker.NewClient(cfg.BrokerBaseURL, cfg.BrokerAPIKey),
		Coefficients: trafficRepo,
		Clock:        trafficpostgres.SystemClock{},
		IDGenerator:  trafficpostgres.UUIDGenerator{},
		Logger:       logger,
	})

	orderRepo := orderpostgres.NewRepository(pg.DB, logger)
	rt.orders = orderservice.NewModule(orderservice.Dependencies{
		Repository: orderRepo,
		Counter:    httpcounter.NewClient(cfg.CounterBaseURL),
		Ledger:     rt.ledger.Service,
		Traffic: trafficbridge.Planner{
			Resolver:    rt.traffic.Resolver,
			Distributor: rt.traffic.Distributor,
		},
		Progress:          progresscache.New(progressStore),
		Events:            bus,
		Notifier:          notify.LogNotifier{Logger: logger},
		Clock:             orderpostgres.SystemClock{},
		IDGenerator:       orderpostgres.UUIDGenerator{},
		EarlyPullFraction: cfg.EarlyPullFraction,
		VerifyInterval:    cfg.VerifyInterval,
		VerifyMaxAttempts: cfg.VerifyMaxAttempts,
		Logger:            logger,
	})

	return rt, logger, nil
}

func buildBus(cfg config.Config, logger *slog.Logger) (messaging.Bus, error) {
	switch cfg.BusDriver {
	case "inprocess":
		return messaging.NewInProcess(cfg.ConsumerMaxAttempts, cfg.ConsumerRetryDelay, logger), nil
	case "amqp":
		return messaging.NewAMQP(cfg.AMQPURL, cfg.ConsumerMaxAttempts, cfg.ConsumerRetryDelay, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}

func (rt *runtime) Close() error {
	var firstErr error
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if rt.postgres != nil {
		if err := rt.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func BuildAPI() (*APIApp, error) {
	rt, logger, err := buildRuntime("api")
	if err != nil {
		return nil, err
	}

	server := httpserver.New(rt.orders, rt.ledger, logger, normalizeAddr(rt.cfg.HTTPPort))
	return &APIApp{
		server:   server,
		postgres: rt.postgres,
		redis:    rt.redis,
		logger:   logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	rt, logger, err := buildRuntime("worker")
	if err != nil {
		return nil, err
	}

	return &WorkerApp{
		postgres: rt.postgres,
		redis:    rt.redis,
		consumer: orderworkers.CreatedConsumer{
			Bus:      rt.bus,
			Service:  rt.orders.Service,
			Dedup:    rt.dedup,
			DedupTTL: rt.cfg.DedupTTL,
			Logger:   logger,
		},
		monitor: orderworkers.ProgressMonitor{
			Repo:    rt.orders.Service.Repo,
			Service: rt.orders.Service,
			Logger:  logger,
		},
		verifier: orderworkers.DeliveryVerifier{
			Repo:    rt.orders.Service.Repo,
			Service: rt.orders.Service,
			Logger:  logger,
		},
		monitorInterval: rt.cfg.MonitorInterval,
		logger:          logger,
	}, nil
}

func (a *APIApp) Run(_ context.Context) error {
	if a.logger != nil {
		a.logger.Info("api app started",
			"event", "bootstrap_api_started",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
	}
	return a.server.Start()
}

func (a *APIApp) Close() error {
	var firstErr error
	if a.redis != nil {
		firstErr = a.redis.Close()
	}
	if a.postgres != nil {
		if err := a.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.consumer.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(w.monitorInterval)
	defer ticker.Stop()

	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"monitor_interval", w.monitorInterval.String(),
	)

	for {
		if err := w.monitor.RunOnce(ctx); err != nil {
			w.logger.Error("progress monitor pass failed",
				"event", "bootstrap_monitor_pass_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		if err := w.verifier.RunOnce(ctx); err != nil {
			w.logger.Error("delivery verifier pass failed",
				"event", "bootstrap_verifier_pass_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"error", err.Error(),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) Close() error {
	var firstErr error
	if w.redis != nil {
		firstErr = w.redis.Close()
	}
	if w.postgres != nil {
		if err := w.postgres.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
