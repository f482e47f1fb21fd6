package ports

import (
	"context"
	"time"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
)

type Repository interface {
	ListActiveEndpoints(ctx context.Context) ([]entities.CampaignEndpoint, error)
	// AdjustEndpointLoad atomically shifts the endpoint's active-offer
	// counter by delta, clamping at zero.
	AdjustEndpointLoad(ctx context.Context, endpointID string, delta int) error
	CreateAssignment(ctx context.Context, assignment entities.Assignment) error
	GetAssignmentByOrder(ctx context.Context, orderID string) (entities.Assignment, error)
	UpdateAssignment(ctx context.Context, assignment entities.Assignment) error
}

// Broker is the external traffic platform the offers are pushed to. All
// calls are remote and must honor the context deadline.
type Broker interface {
	CreateOrUpdateOffer(ctx context.Context, offerID string, name string, targetURL string) error
	AddOfferToCampaign(ctx context.Context, campaignID string, offerID string) error
	RemoveOfferFromCampaign(ctx context.Context, campaignID string, offerID string) error
	GetOfferStats(ctx context.Context, offerID string) (entities.OfferStats, error)
}

// CoefficientSource resolves the conversion rate for a service kind. A miss
// is not an error; callers fall back to defaults.
type CoefficientSource interface {
	GetCoefficient(ctx context.Context, serviceID string) (entities.Coefficient, bool, error)
	SetCoefficient(ctx context.Context, coefficient entities.Coefficient) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
