package ledgerservice

import (
	"log/slog"

	httpadapter "boostpanel/contexts/finance-core/ledger-service/adapters/http"
	"boostpanel/contexts/finance-core/ledger-service/adapters/memory"
	"boostpanel/contexts/finance-core/ledger-service/application"
	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
	"boostpanel/contexts/finance-core/ledger-service/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
}

type Dependencies struct {
	Repository  ports.Repository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	MaxRetries  int
	Logger      *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Repo:       deps.Repository,
		Clock:      deps.Clock,
		IDGen:      deps.IDGenerator,
		MaxRetries: deps.MaxRetries,
		Logger:     deps.Logger,
	}
	return Module{
		Service: service,
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.Account, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Repository:  store,
		Clock:       store,
		IDGenerator: store,
		Logger:      logger,
	})
	module.Store = store
	return module
}
