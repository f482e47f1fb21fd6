package entities

import "time"

// CampaignEndpoint is a fixed destination campaign on the external traffic
// broker. Weight drives the proportional split, Priority breaks remainder
// ties, and inactive endpoints never receive assignments.
type CampaignEndpoint struct {
	ID       string
	Name     string
	Weight   int
	Priority int
	Active   bool

	// ActiveOffers counts offers currently attached to this endpoint.
	ActiveOffers int
}

// Assignment binds one order's offer to the broker campaigns until the
// monitor pulls it back out. Shares records the per-endpoint split planned
// at bind time so a partial unbind can be reconciled against it later.
type Assignment struct {
	ID               string
	OrderID          string
	OfferID          string
	TargetURL        string
	EndpointIDs      []string
	Shares           []EndpointShare
	RequiredTraffic  int64
	DeliveredTraffic int64
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Coefficient holds the clicks-per-unit conversion rates for one service
// kind. WithClip applies when the target supports clip-based delivery.
type Coefficient struct {
	ServiceID   string
	WithClip    float64
	WithoutClip float64
	UpdatedAt   time.Time
}

const (
	DefaultWithClip    = 3.0
	DefaultWithoutClip = 4.0

	CoefficientMax = 10.0
)

// OfferStats is the broker-side view of one offer's delivery.
type OfferStats struct {
	OfferID     string
	Clicks      int64
	Conversions int64
	PerEndpoint map[string]int64
}

// EndpointShare is the planned portion of required traffic for one endpoint.
type EndpointShare struct {
	EndpointID string
	Traffic    int64
}
