package entities

import "time"

type OrderStatus string

const (
	StatusPending    OrderStatus = "PENDING"
	StatusInProgress OrderStatus = "IN_PROGRESS"
	StatusProcessing OrderStatus = "PROCESSING"
	StatusActive     OrderStatus = "ACTIVE"
	StatusPaused     OrderStatus = "PAUSED"
	StatusHolding    OrderStatus = "HOLDING"
	StatusPartial    OrderStatus = "PARTIAL"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusRefill     OrderStatus = "REFILL"
)

// Order is the aggregate root of fulfillment. StartCount is the target
// counter at creation; SecondStartCount is captured right after traffic
// stops. Delivered is always derived as current minus StartCount, so the two
// baselines stay immutable once set.
type Order struct {
	ID               string
	UserID           string
	ServiceID        string
	Link             string
	Quantity         int64
	Charge           float64
	StartCount       int64
	SecondStartCount *int64
	Delivered        int64
	Status           OrderStatus
	Coefficient      float64
	ClipEligible     bool
	RequiredTraffic  int64
	OfferID          string
	CampaignIDs      []string
	VerifyAttempts   int
	FailCount        int
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (o Order) Remains() int64 {
	remains := o.Quantity - o.Delivered
	if remains < 0 {
		return 0
	}
	return remains
}

// Terminal reports whether the order has been logically retired. COMPLETED
// is not terminal: a refill may re-open it.
func (o Order) Terminal() bool {
	return o.Status == StatusCancelled || o.Status == StatusPartial
}
