package application

import (
	"context"
	"errors"
	"testing"

	"boostpanel/contexts/fulfillment/traffic-service/adapters/memory"
	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
)

func threeEndpoints() []entities.CampaignEndpoint {
	return []entities.CampaignEndpoint{
		{ID: "camp_a", Name: "Campaign A", Weight: 50, Priority: 3, Active: true},
		{ID: "camp_b", Name: "Campaign B", Weight: 30, Priority: 2, Active: true},
		{ID: "camp_c", Name: "Campaign C", Weight: 20, Priority: 1, Active: true},
	}
}

func newDistributor(endpoints []entities.CampaignEndpoint) (Distributor, *memory.Store, *memory.Broker) {
	store := memory.NewStore(endpoints)
	broker := memory.NewBroker()
	return Distributor{
		Repo:   store,
		Broker: broker,
		Clock:  store,
		IDGen:  store,
	}, store, broker
}

func TestBindSplitsTrafficByWeight(t *testing.T) {
	distributor, _, broker := newDistributor(threeEndpoints())

	assignment, shares, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	want := map[string]int64{"camp_a": 2000, "camp_b": 1200, "camp_c": 800}
	var total int64
	for _, share := range shares {
		if want[share.EndpointID] != share.Traffic {
			t.Fatalf("endpoint %s: expected %d, got %d", share.EndpointID, want[share.EndpointID], share.Traffic)
		}
		total += share.Traffic
	}
	if total != 4000 {
		t.Fatalf("expected shares to sum to 4000, got %d", total)
	}
	if len(broker.Attachments(assignment.OfferID)) != 3 {
		t.Fatalf("expected offer attached to 3 campaigns, got %d", len(broker.Attachments(assignment.OfferID)))
	}
}

func TestBindRemainderGoesToHighestPriority(t *testing.T) {
	distributor, _, _ := newDistributor(threeEndpoints())

	_, shares, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 101,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	// 101 splits into 50/30/20 with remainder 1 landing on camp_a.
	byEndpoint := make(map[string]int64)
	var total int64
	for _, share := range shares {
		byEndpoint[share.EndpointID] = share.Traffic
		total += share.Traffic
	}
	if total != 101 {
		t.Fatalf("expected total 101, got %d", total)
	}
	if byEndpoint["camp_a"] != 51 {
		t.Fatalf("expected remainder on camp_a (51), got %d", byEndpoint["camp_a"])
	}
}

func TestBindIsIdempotentPerOrder(t *testing.T) {
	distributor, _, _ := newDistributor(threeEndpoints())

	first, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("first bind failed: %v", err)
	}
	second, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("second bind failed: %v", err)
	}
	if first.OfferID != second.OfferID {
		t.Fatalf("expected same offer on rebind, got %s vs %s", first.OfferID, second.OfferID)
	}
}

func TestBindWithoutActiveEndpoints(t *testing.T) {
	distributor, _, _ := newDistributor(nil)

	_, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 100,
	})
	if !errors.Is(err, domainerrors.ErrNoActiveEndpoints) {
		t.Fatalf("expected ErrNoActiveEndpoints, got %v", err)
	}
}

func TestBindPersistsPlannedShares(t *testing.T) {
	distributor, store, _ := newDistributor(threeEndpoints())

	_, shares, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	stored, err := store.GetAssignmentByOrder(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("get assignment failed: %v", err)
	}
	if len(stored.Shares) != len(shares) {
		t.Fatalf("expected %d persisted shares, got %d", len(shares), len(stored.Shares))
	}
	for i, share := range shares {
		if stored.Shares[i] != share {
			t.Fatalf("share %d: expected %+v, got %+v", i, share, stored.Shares[i])
		}
	}

	// The planned split survives a partial unbind untouched, so the refund
	// reconciliation still sees what each endpoint was meant to carry.
	if _, err := distributor.Unbind(context.Background(), "order_1"); err != nil {
		t.Fatalf("unbind failed: %v", err)
	}
	stored, _ = store.GetAssignmentByOrder(context.Background(), "order_1")
	if len(stored.Shares) != 3 {
		t.Fatalf("expected planned shares kept after unbind, got %d", len(stored.Shares))
	}

	// A replayed bind hands back the persisted plan, not a fresh split.
	distributor2, _, _ := newDistributor(threeEndpoints())
	first, _, err := distributor2.Bind(context.Background(), BindInput{
		OrderID:         "order_2",
		OfferName:       "order_2 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	_, replayShares, err := distributor2.Bind(context.Background(), BindInput{
		OrderID:         "order_2",
		OfferName:       "order_2 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("rebind failed: %v", err)
	}
	if len(replayShares) != len(first.Shares) {
		t.Fatalf("expected replay to return the stored plan, got %d shares", len(replayShares))
	}
}

func TestBindAndUnbindTrackEndpointLoad(t *testing.T) {
	distributor, store, _ := newDistributor(threeEndpoints())

	_, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	for _, id := range []string{"camp_a", "camp_b", "camp_c"} {
		if load := store.EndpointLoad(id); load != 1 {
			t.Fatalf("endpoint %s: expected load 1 after bind, got %d", id, load)
		}
	}

	if _, err := distributor.Unbind(context.Background(), "order_1"); err != nil {
		t.Fatalf("unbind failed: %v", err)
	}
	for _, id := range []string{"camp_a", "camp_b", "camp_c"} {
		if load := store.EndpointLoad(id); load != 0 {
			t.Fatalf("endpoint %s: expected load 0 after unbind, got %d", id, load)
		}
	}
}

func TestUnbindDetachesEverywhere(t *testing.T) {
	distributor, _, broker := newDistributor(threeEndpoints())

	assignment, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	unbound, err := distributor.Unbind(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("unbind failed: %v", err)
	}
	if unbound.Active {
		t.Fatal("expected assignment to be inactive after unbind")
	}
	if len(broker.Attachments(assignment.OfferID)) != 0 {
		t.Fatalf("expected no attachments left, got %d", len(broker.Attachments(assignment.OfferID)))
	}
}

func TestUnbindPartialFailureKeepsRemainingEndpoints(t *testing.T) {
	distributor, _, broker := newDistributor(threeEndpoints())

	_, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	broker.FailRemove["camp_b"] = domainerrors.ErrBrokerUnavailable
	assignment, err := distributor.Unbind(context.Background(), "order_1")
	var partial *domainerrors.PartialUnbindError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialUnbindError, got %v", err)
	}
	if !assignment.Active {
		t.Fatal("expected assignment to stay active after partial unbind")
	}
	if len(assignment.EndpointIDs) != 1 || assignment.EndpointIDs[0] != "camp_b" {
		t.Fatalf("expected only camp_b to remain, got %v", assignment.EndpointIDs)
	}

	delete(broker.FailRemove, "camp_b")
	retried, err := distributor.Unbind(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("retry unbind failed: %v", err)
	}
	if retried.Active {
		t.Fatal("expected assignment inactive after retried unbind")
	}
}

func TestStatsRefreshesDeliveredTraffic(t *testing.T) {
	distributor, store, broker := newDistributor(threeEndpoints())

	assignment, _, err := distributor.Bind(context.Background(), BindInput{
		OrderID:         "order_1",
		OfferName:       "order_1 offer",
		TargetURL:       "https://example.com/watch?v=abc",
		RequiredTraffic: 4000,
	})
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	broker.SetClicks(assignment.OfferID, 1234)
	stats, err := distributor.Stats(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Clicks != 1234 {
		t.Fatalf("expected 1234 clicks, got %d", stats.Clicks)
	}

	stored, err := store.GetAssignmentByOrder(context.Background(), "order_1")
	if err != nil {
		t.Fatalf("get assignment failed: %v", err)
	}
	if stored.DeliveredTraffic != 1234 {
		t.Fatalf("expected delivered traffic persisted, got %d", stored.DeliveredTraffic)
	}
}
