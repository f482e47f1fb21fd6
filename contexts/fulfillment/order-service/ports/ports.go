package ports

import (
	"context"
	"time"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	"boostpanel/internal/shared/events"
)

type Repository interface {
	CreateOrder(ctx context.Context, order entities.Order) error
	GetOrder(ctx context.Context, orderID string) (entities.Order, error)
	ListOrdersByStatus(ctx context.Context, status entities.OrderStatus, limit int) ([]entities.Order, error)
	ListOrdersByUser(ctx context.Context, userID string, limit int, offset int) ([]entities.Order, error)
	// SaveOrder persists the order guarded by the expected version and
	// returns ErrVersionConflict without mutation when another writer won.
	SaveOrder(ctx context.Context, order entities.Order, expectedVersion int64) error
}

// CounterSource reads the public counter of a target resource. Zero with a
// nil error means the target exposes a zero counter; unreachable targets
// return ErrTargetUnreachable.
type CounterSource interface {
	GetPublicCounter(ctx context.Context, link string) (int64, error)
}

// Ledger is the finance-core collaborator. Reserve returns false without
// mutation when the balance does not cover the charge.
type Ledger interface {
	Reserve(ctx context.Context, userID string, amount float64, orderID string, idempotencyKey string) (bool, error)
	Refund(ctx context.Context, userID string, amount float64, orderID string, reason string, idempotencyKey string) error
}

// TrafficPlanner is the fulfillment/traffic-service collaborator.
type TrafficPlanner interface {
	RequiredTraffic(ctx context.Context, serviceID string, quantity int64, clipEligible bool) (int64, float64, error)
	Bind(ctx context.Context, orderID string, offerName string, targetURL string, requiredTraffic int64) (offerID string, campaignIDs []string, err error)
	Unbind(ctx context.Context, orderID string) error
	Delivered(ctx context.Context, orderID string) (int64, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event events.Envelope) error
}

// ProgressRecord is the monitor/verifier state that has to survive process
// restarts.
type ProgressRecord struct {
	SecondBaseline int64     `json:"second_baseline"`
	Attempts       int       `json:"attempts"`
	NextCheckAt    time.Time `json:"next_check_at"`
}

type ProgressCache interface {
	Get(ctx context.Context, orderID string) (ProgressRecord, bool, error)
	Put(ctx context.Context, orderID string, record ProgressRecord, ttl time.Duration) error
	Delete(ctx context.Context, orderID string) error
}

// Notifier carries operator alerts and compliance audit lines. It is fire
// and forget; implementations log failures instead of returning them.
type Notifier interface {
	Notify(ctx context.Context, kind string, orderID string, details map[string]string)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
