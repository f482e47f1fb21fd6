package application

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
	"boostpanel/contexts/fulfillment/traffic-service/ports"
)

// Distributor pushes offers onto the broker's fixed campaigns and pulls them
// back out. One order maps to exactly one offer; rebinding the same order is
// a no-op that returns the existing assignment.
type Distributor struct {
	Repo   ports.Repository
	Broker ports.Broker
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

type BindInput struct {
	OrderID         string
	OfferName       string
	TargetURL       string
	RequiredTraffic int64
}

// Bind creates the offer on the broker and attaches it to every active
// campaign endpoint. The broker spreads traffic itself; the planned split
// is persisted on the assignment so partial unbinds can be reconciled
// against it.
func (d Distributor) Bind(ctx context.Context, input BindInput) (entities.Assignment, []entities.EndpointShare, error) {
	existing, err := d.Repo.GetAssignmentByOrder(ctx, input.OrderID)
	if err == nil && existing.Active {
		d.logInfo("traffic bind replayed", "traffic_bind_replayed",
			"order_id", input.OrderID, "offer_id", existing.OfferID)
		return existing, existing.Shares, nil
	}
	if err != nil && !errors.Is(err, domainerrors.ErrAssignmentNotFound) {
		return entities.Assignment{}, nil, err
	}

	shares, err := d.planShares(ctx, input.RequiredTraffic)
	if err != nil {
		return entities.Assignment{}, nil, err
	}

	offerID, err := d.IDGen.NewID(ctx)
	if err != nil {
		return entities.Assignment{}, nil, err
	}
	if err := d.Broker.CreateOrUpdateOffer(ctx, offerID, input.OfferName, input.TargetURL); err != nil {
		return entities.Assignment{}, nil, err
	}

	endpointIDs := make([]string, 0, len(shares))
	for _, share := range shares {
		if err := d.Broker.AddOfferToCampaign(ctx, share.EndpointID, offerID); err != nil {
			d.rollback(ctx, offerID, endpointIDs)
			return entities.Assignment{}, nil, err
		}
		endpointIDs = append(endpointIDs, share.EndpointID)
	}

	assignmentID, err := d.IDGen.NewID(ctx)
	if err != nil {
		d.rollback(ctx, offerID, endpointIDs)
		return entities.Assignment{}, nil, err
	}
	now := d.Clock.Now().UTC()
	assignment := entities.Assignment{
		ID:              assignmentID,
		OrderID:         input.OrderID,
		OfferID:         offerID,
		TargetURL:       input.TargetURL,
		EndpointIDs:     endpointIDs,
		Shares:          shares,
		RequiredTraffic: input.RequiredTraffic,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := d.Repo.CreateAssignment(ctx, assignment); err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateAssignment) {
			d.rollback(ctx, offerID, endpointIDs)
			replay, replayErr := d.Repo.GetAssignmentByOrder(ctx, input.OrderID)
			if replayErr != nil {
				return entities.Assignment{}, nil, replayErr
			}
			return replay, replay.Shares, nil
		}
		d.rollback(ctx, offerID, endpointIDs)
		return entities.Assignment{}, nil, err
	}

	d.adjustLoad(ctx, endpointIDs, 1)

	d.logInfo("traffic offer bound", "traffic_bound",
		"order_id", input.OrderID,
		"offer_id", offerID,
		"endpoints", len(endpointIDs),
		"required_traffic", input.RequiredTraffic,
	)
	return assignment, shares, nil
}

// Unbind removes the offer from every endpoint it was attached to. Failures
// on individual endpoints do not stop the sweep; they are collected into a
// PartialUnbindError so a retry can target only what is still attached.
func (d Distributor) Unbind(ctx context.Context, orderID string) (entities.Assignment, error) {
	assignment, err := d.Repo.GetAssignmentByOrder(ctx, orderID)
	if err != nil {
		return entities.Assignment{}, err
	}
	if !assignment.Active {
		return assignment, nil
	}

	failed := make(map[string]error)
	detached := make([]string, 0, len(assignment.EndpointIDs))
	for _, endpointID := range assignment.EndpointIDs {
		if err := d.Broker.RemoveOfferFromCampaign(ctx, endpointID, assignment.OfferID); err != nil {
			failed[endpointID] = err
			continue
		}
		detached = append(detached, endpointID)
	}

	d.adjustLoad(ctx, detached, -1)

	if len(failed) > 0 {
		remaining := make([]string, 0, len(failed))
		for endpointID := range failed {
			remaining = append(remaining, endpointID)
		}
		sort.Strings(remaining)
		assignment.EndpointIDs = remaining
		assignment.UpdatedAt = d.Clock.Now().UTC()
		if saveErr := d.Repo.UpdateAssignment(ctx, assignment); saveErr != nil {
			return entities.Assignment{}, saveErr
		}
		d.logWarn("traffic unbind partial", "traffic_unbind_partial",
			"order_id", orderID,
			"offer_id", assignment.OfferID,
			"failed_endpoints", len(failed),
		)
		return assignment, &domainerrors.PartialUnbindError{
			OfferID:  assignment.OfferID,
			Failed:   failed,
			Detached: detached,
		}
	}

	assignment.Active = false
	assignment.UpdatedAt = d.Clock.Now().UTC()
	if err := d.Repo.UpdateAssignment(ctx, assignment); err != nil {
		return entities.Assignment{}, err
	}
	d.logInfo("traffic offer unbound", "traffic_unbound",
		"order_id", orderID, "offer_id", assignment.OfferID)
	return assignment, nil
}

// Stats refreshes the delivered counter from the broker.
func (d Distributor) Stats(ctx context.Context, orderID string) (entities.OfferStats, error) {
	assignment, err := d.Repo.GetAssignmentByOrder(ctx, orderID)
	if err != nil {
		return entities.OfferStats{}, err
	}
	stats, err := d.Broker.GetOfferStats(ctx, assignment.OfferID)
	if err != nil {
		return entities.OfferStats{}, err
	}

	if stats.Clicks != assignment.DeliveredTraffic {
		assignment.DeliveredTraffic = stats.Clicks
		assignment.UpdatedAt = d.Clock.Now().UTC()
		if err := d.Repo.UpdateAssignment(ctx, assignment); err != nil {
			return entities.OfferStats{}, err
		}
	}
	return stats, nil
}

// planShares splits the required traffic across active endpoints by weight.
// The integer remainder lands on the highest-priority endpoint so the total
// always matches.
func (d Distributor) planShares(ctx context.Context, requiredTraffic int64) ([]entities.EndpointShare, error) {
	endpoints, err := d.Repo.ListActiveEndpoints(ctx)
	if err != nil {
		return nil, err
	}
	if len(endpoints) == 0 {
		return nil, domainerrors.ErrNoActiveEndpoints
	}

	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Priority != endpoints[j].Priority {
			return endpoints[i].Priority > endpoints[j].Priority
		}
		return endpoints[i].ID < endpoints[j].ID
	})

	totalWeight := 0
	for _, endpoint := range endpoints {
		if endpoint.Weight > 0 {
			totalWeight += endpoint.Weight
		}
	}

	shares := make([]entities.EndpointShare, 0, len(endpoints))
	var allocated int64
	for _, endpoint := range endpoints {
		var portion int64
		if totalWeight > 0 && endpoint.Weight > 0 {
			portion = requiredTraffic * int64(endpoint.Weight) / int64(totalWeight)
		}
		shares = append(shares, entities.EndpointShare{EndpointID: endpoint.ID, Traffic: portion})
		allocated += portion
	}
	if totalWeight == 0 {
		// All weights zero: hand everything to the highest priority endpoint.
		shares[0].Traffic = requiredTraffic
		return shares, nil
	}
	if remainder := requiredTraffic - allocated; remainder > 0 {
		shares[0].Traffic += remainder
	}
	return shares, nil
}

// adjustLoad keeps the per-endpoint active-offer counters in step with the
// broker attachments. Counters are load telemetry; a failed update is logged
// and never fails the bind or unbind itself.
func (d Distributor) adjustLoad(ctx context.Context, endpointIDs []string, delta int) {
	for _, endpointID := range endpointIDs {
		if err := d.Repo.AdjustEndpointLoad(ctx, endpointID, delta); err != nil {
			d.logWarn("endpoint load adjust failed", "traffic_load_adjust_failed",
				"endpoint_id", endpointID, "delta", delta, "error", err.Error())
		}
	}
}

func (d Distributor) rollback(ctx context.Context, offerID string, endpointIDs []string) {
	for _, endpointID := range endpointIDs {
		if err := d.Broker.RemoveOfferFromCampaign(ctx, endpointID, offerID); err != nil {
			d.logWarn("traffic bind rollback failed", "traffic_rollback_failed",
				"offer_id", offerID, "endpoint_id", endpointID, "error", err.Error())
		}
	}
}

func (d Distributor) logInfo(msg string, event string, args ...any) {
	resolveLogger(d.Logger).Info(msg, append([]any{
		"event", event,
		"module", "fulfillment/traffic-service",
		"layer", "application",
	}, args...)...)
}

func (d Distributor) logWarn(msg string, event string, args ...any) {
	resolveLogger(d.Logger).Warn(msg, append([]any{
		"event", event,
		"module", "fulfillment/traffic-service",
		"layer", "application",
	}, args...)...)
}
