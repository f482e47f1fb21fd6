package ports

import (
	"context"
	"time"

	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
)

type Repository interface {
	CreateAccount(ctx context.Context, account entities.Account) error
	GetAccount(ctx context.Context, userID string) (entities.Account, error)
	// SaveAccountWithEntry persists the mutated account and its audit entry
	// atomically, guarded by the expected version. A stale version returns
	// ErrVersionConflict and mutates nothing.
	SaveAccountWithEntry(ctx context.Context, account entities.Account, expectedVersion int64, entry entities.Entry) error
	GetEntryByKey(ctx context.Context, idempotencyKey string) (entities.Entry, bool, error)
	ListEntriesByUser(ctx context.Context, userID string, limit int, offset int) ([]entities.Entry, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
