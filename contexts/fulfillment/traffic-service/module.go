package trafficservice

import (
	"log/slog"

	"boostpanel/contexts/fulfillment/traffic-service/adapters/memory"
	"boostpanel/contexts/fulfillment/traffic-service/application"
	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	"boostpanel/contexts/fulfillment/traffic-service/ports"
)

type Module struct {
	Resolver    application.Resolver
	Distributor application.Distributor
	Store       *memory.Store
	Broker      *memory.Broker
}

type Dependencies struct {
	Repository   ports.Repository
	Broker       ports.Broker
	Coefficients ports.CoefficientSource
	Clock        ports.Clock
	IDGenerator  ports.IDGenerator
	Logger       *slog.Logger
}

func NewModule(deps Dependencies) Module {
	return Module{
		Resolver: application.Resolver{
			Coefficients: deps.Coefficients,
			Logger:       deps.Logger,
		},
		Distributor: application.Distributor{
			Repo:   deps.Repository,
			Broker: deps.Broker,
			Clock:  deps.Clock,
			IDGen:  deps.IDGenerator,
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(endpoints []entities.CampaignEndpoint, logger *slog.Logger) Module {
	store := memory.NewStore(endpoints)
	broker := memory.NewBroker()
	module := NewModule(Dependencies{
		Repository:   store,
		Broker:       broker,
		Coefficients: store,
		Clock:        store,
		IDGenerator:  store,
		Logger:       logger,
	})
	module.Store = store
	module.Broker = broker
	return module
}
