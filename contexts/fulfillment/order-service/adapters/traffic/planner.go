package traffic

import (
	"context"

	orderports "boostpanel/contexts/fulfillment/order-service/ports"
	trafficapp "boostpanel/contexts/fulfillment/traffic-service/application"
)

// Planner adapts the traffic-service use cases to the shape the order
// lifecycle needs.
type Planner struct {
	Resolver    trafficapp.Resolver
	Distributor trafficapp.Distributor
}

func (p Planner) RequiredTraffic(ctx context.Context, serviceID string, quantity int64, clipEligible bool) (int64, float64, error) {
	return p.Resolver.RequiredTraffic(ctx, serviceID, quantity, clipEligible)
}

func (p Planner) Bind(ctx context.Context, orderID string, offerName string, targetURL string, requiredTraffic int64) (string, []string, error) {
	assignment, _, err := p.Distributor.Bind(ctx, trafficapp.BindInput{
		OrderID:         orderID,
		OfferName:       offerName,
		TargetURL:       targetURL,
		RequiredTraffic: requiredTraffic,
	})
	if err != nil {
		return "", nil, err
	}
	return assignment.OfferID, assignment.EndpointIDs, nil
}

func (p Planner) Unbind(ctx context.Context, orderID string) error {
	_, err := p.Distributor.Unbind(ctx, orderID)
	return err
}

func (p Planner) Delivered(ctx context.Context, orderID string) (int64, error) {
	stats, err := p.Distributor.Stats(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return stats.Clicks, nil
}

var _ orderports.TrafficPlanner = Planner{}
