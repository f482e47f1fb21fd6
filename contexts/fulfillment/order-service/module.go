package orderservice

import (
	"log/slog"
	"time"

	httpadapter "boostpanel/contexts/fulfillment/order-service/adapters/http"
	"boostpanel/contexts/fulfillment/order-service/adapters/memory"
	"boostpanel/contexts/fulfillment/order-service/adapters/notify"
	"boostpanel/contexts/fulfillment/order-service/adapters/progresscache"
	"boostpanel/contexts/fulfillment/order-service/application"
	"boostpanel/contexts/fulfillment/order-service/ports"
	"boostpanel/internal/platform/cache"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
	Counter *memory.Counter
}

type Dependencies struct {
	Repository  ports.Repository
	Counter     ports.CounterSource
	Ledger      ports.Ledger
	Traffic     ports.TrafficPlanner
	Progress    ports.ProgressCache
	Events      ports.EventPublisher
	Notifier    ports.Notifier
	Clock       ports.Clock
	IDGenerator ports.IDGenerator

	EarlyPullFraction float64
	VerifyInterval    time.Duration
	VerifyMaxAttempts int
	MaxBrokerFailures int
	ProgressTTL       time.Duration

	Logger *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Repo:              deps.Repository,
		Counter:           deps.Counter,
		Ledger:            deps.Ledger,
		Traffic:           deps.Traffic,
		Progress:          deps.Progress,
		Events:            deps.Events,
		Notifier:          deps.Notifier,
		Clock:             deps.Clock,
		IDGen:             deps.IDGenerator,
		EarlyPullFraction: deps.EarlyPullFraction,
		VerifyInterval:    deps.VerifyInterval,
		VerifyMaxAttempts: deps.VerifyMaxAttempts,
		MaxBrokerFailures: deps.MaxBrokerFailures,
		ProgressTTL:       deps.ProgressTTL,
		Logger:            deps.Logger,
	}
	return Module{
		Service: service,
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
	}
}

// NewInMemoryModule wires the memory store and counter fake; the cross
// context collaborators still come from the caller so tests control them.
func NewInMemoryModule(
	ledger ports.Ledger,
	traffic ports.TrafficPlanner,
	events ports.EventPublisher,
	logger *slog.Logger,
) Module {
	store := memory.NewStore()
	counter := memory.NewCounter()
	module := NewModule(Dependencies{
		Repository:  store,
		Counter:     counter,
		Ledger:      ledger,
		Traffic:     traffic,
		Progress:    progresscache.New(cache.NewMemory()),
		Events:      events,
		Notifier:    notify.LogNotifier{Logger: logger},
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	module.Counter = counter
	return module
}
