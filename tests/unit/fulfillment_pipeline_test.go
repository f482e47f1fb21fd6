package unit

import (
	"context"
	"sync"
	"testing"
	"time"

	ledgerservice "boostpanel/contexts/finance-core/ledger-service"
	ledgerentities "boostpanel/contexts/finance-core/ledger-service/domain/entities"
	orderservice "boostpanel/contexts/fulfillment/order-service"
	ordermemory "boostpanel/contexts/fulfillment/order-service/adapters/memory"
	"boostpanel/contexts/fulfillment/order-service/adapters/notify"
	"boostpanel/contexts/fulfillment/order-service/adapters/progresscache"
	trafficbridge "boostpanel/contexts/fulfillment/order-service/adapters/traffic"
	orderworkers "boostpanel/contexts/fulfillment/order-service/application/workers"
	orderentities "boostpanel/contexts/fulfillment/order-service/domain/entities"
	orderhttp "boostpanel/contexts/fulfillment/order-service/transport/http"
	trafficservice "boostpanel/contexts/fulfillment/traffic-service"
	trafficentities "boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	"boostpanel/internal/platform/cache"
	"boostpanel/internal/platform/messaging"
)

const pipelineLink = "https://example.com/v/pipeline"

type pipelineClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *pipelineClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *pipelineClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type pipelineHarness struct {
	bus      *messaging.InProcess
	clock    *pipelineClock
	ledger   ledgerservice.Module
	traffic  trafficservice.Module
	orders   orderservice.Module
	monitor  orderworkers.ProgressMonitor
	verifier orderworkers.DeliveryVerifier
	cancel   context.CancelFunc
}

// newPipelineHarness wires the full path an order travels in production:
// HTTP handler, ledger, event bus with a deduped consumer, traffic planner,
// and the monitor/verifier schedulers. Only the clock and the external
// counter/broker are faked.
func newPipelineHarness(t *testing.T) (*pipelineHarness, context.Context) {
	t.Helper()

	clock := &pipelineClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
	bus := messaging.NewInProcess(3, time.Millisecond, nil)

	ledger := ledgerservice.NewInMemoryModule([]ledgerentities.Account{
		{UserID: "user_1", Balance: 100},
	}, nil)

	traffic := trafficservice.NewInMemoryModule([]trafficentities.CampaignEndpoint{
		{ID: "camp_a", Weight: 50, Priority: 3, Active: true},
		{ID: "camp_b", Weight: 30, Priority: 2, Active: true},
		{ID: "camp_c", Weight: 20, Priority: 1, Active: true},
	}, nil)

	store := ordermemory.NewStore()
	counter := ordermemory.NewCounter()
	counter.SetValue(pipelineLink, 5000)

	orders := orderservice.NewModule(orderservice.Dependencies{
		Repository: store,
		Counter:    counter,
		Ledger:     ledger.Service,
		Traffic: trafficbridge.Planner{
			Resolver:    traffic.Resolver,
			Distributor: traffic.Distributor,
		},
		Progress:          progresscache.New(cache.NewMemoryWithClock(clock.Now)),
		Events:            bus,
		Notifier:          notify.LogNotifier{},
		Clock:             clock,
		IDGenerator:       store,
		EarlyPullFraction: 0.95,
		VerifyInterval:    10 * time.Minute,
		VerifyMaxAttempts: 3,
	})
	orders.Store = store
	orders.Counter = counter

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	consumer := orderworkers.CreatedConsumer{
		Bus:      bus,
		Service:  orders.Service,
		Dedup:    cache.NewMemoryWithClock(clock.Now),
		DedupTTL: 24 * time.Hour,
	}
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("consumer start failed: %v", err)
	}

	return &pipelineHarness{
		bus:     bus,
		clock:   clock,
		ledger:  ledger,
		traffic: traffic,
		orders:  orders,
		monitor: orderworkers.ProgressMonitor{
			Repo:    store,
			Service: orders.Service,
		},
		verifier: orderworkers.DeliveryVerifier{
			Repo:    store,
			Service: orders.Service,
		},
		cancel: cancel,
	}, ctx
}

func (h *pipelineHarness) createOrder(t *testing.T, ctx context.Context, quantity int64, charge float64) string {
	t.Helper()
	resp, err := h.orders.Handler.CreateOrderHandler(ctx, "user_1", orderhttp.CreateOrderRequest{
		ServiceID: "views_standard",
		Link:      pipelineLink,
		Quantity:  quantity,
		Charge:    charge,
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	return resp.Data.OrderID
}

func (h *pipelineHarness) waitForStatus(t *testing.T, ctx context.Context, orderID string, want orderentities.OrderStatus) orderentities.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		order, err := h.orders.Service.GetOrder(ctx, orderID)
		if err == nil && order.Status == want {
			return order
		}
		if time.Now().After(deadline) {
			t.Fatalf("order %s never reached %s, last status %s (err %v)", orderID, want, order.Status, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *pipelineHarness) balance(t *testing.T, ctx context.Context) float64 {
	t.Helper()
	resp, err := h.ledger.Handler.BalanceHandler(ctx, "user_1")
	if err != nil {
		t.Fatalf("balance read failed: %v", err)
	}
	return resp.Amount
}

func TestPipelineCreateThroughCompletion(t *testing.T) {
	h, ctx := newPipelineHarness(t)

	orderID := h.createOrder(t, ctx, 1000, 10)
	if got := h.balance(t, ctx); got != 90 {
		t.Fatalf("expected balance 90 after reserve, got %v", got)
	}

	// The created event reaches the consumer asynchronously and pulls the
	// order into traffic.
	order := h.waitForStatus(t, ctx, orderID, orderentities.StatusInProgress)
	if order.RequiredTraffic != 4000 {
		t.Fatalf("expected required traffic 4000, got %d", order.RequiredTraffic)
	}
	if order.OfferID == "" {
		t.Fatal("expected an offer bound to the order")
	}

	// Below the pull threshold nothing moves.
	h.traffic.Broker.SetClicks(order.OfferID, 3700)
	if err := h.monitor.RunOnce(ctx); err != nil {
		t.Fatalf("monitor pass failed: %v", err)
	}
	order, _ = h.orders.Service.GetOrder(ctx, orderID)
	if order.Status != orderentities.StatusInProgress {
		t.Fatalf("expected order still running, got %s", order.Status)
	}

	// Crossing 95% of the target stops traffic and rebaselines the counter.
	h.traffic.Broker.SetClicks(order.OfferID, 3800)
	h.orders.Counter.SetValue(pipelineLink, 5900)
	if err := h.monitor.RunOnce(ctx); err != nil {
		t.Fatalf("monitor pass failed: %v", err)
	}
	order, _ = h.orders.Service.GetOrder(ctx, orderID)
	if order.Status != orderentities.StatusActive {
		t.Fatalf("expected ACTIVE after threshold, got %s", order.Status)
	}
	if order.Delivered != 900 {
		t.Fatalf("expected delivered 900 at stop, got %d", order.Delivered)
	}

	// Verification waits out its interval, then confirms full delivery.
	h.clock.Advance(11 * time.Minute)
	h.orders.Counter.SetValue(pipelineLink, 6000)
	if err := h.verifier.RunOnce(ctx); err != nil {
		t.Fatalf("verifier pass failed: %v", err)
	}
	order, _ = h.orders.Service.GetOrder(ctx, orderID)
	if order.Status != orderentities.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", order.Status)
	}
	if order.Delivered != 1000 {
		t.Fatalf("expected delivered 1000, got %d", order.Delivered)
	}
	if got := h.balance(t, ctx); got != 90 {
		t.Fatalf("completed order must keep the charge, balance %v", got)
	}
}

func TestPipelineCancelRefundsUndelivered(t *testing.T) {
	h, ctx := newPipelineHarness(t)

	orderID := h.createOrder(t, ctx, 1000, 10)
	h.waitForStatus(t, ctx, orderID, orderentities.StatusInProgress)

	// A quarter of the views arrived before the user pulled the plug.
	h.orders.Counter.SetValue(pipelineLink, 5250)
	resp, err := h.orders.Handler.CancelOrderHandler(ctx, orderID, orderhttp.CancelOrderRequest{Reason: "changed my mind"})
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if resp.Data.Status != string(orderentities.StatusCancelled) {
		t.Fatalf("expected CANCELLED, got %s", resp.Data.Status)
	}
	if resp.Data.Delivered != 250 {
		t.Fatalf("expected delivered 250 at cancel, got %d", resp.Data.Delivered)
	}
	if got := h.balance(t, ctx); got != 97.5 {
		t.Fatalf("expected balance 97.5 after proportional refund, got %v", got)
	}
}

func TestPipelineMonitorRescuesStalledProcessingOrder(t *testing.T) {
	h, ctx := newPipelineHarness(t)

	orderID := h.createOrder(t, ctx, 1000, 10)
	order := h.waitForStatus(t, ctx, orderID, orderentities.StatusInProgress)

	// A crash after the traffic stop can leave an order in PROCESSING with
	// the verification handoff unfinished.
	h.traffic.Broker.SetClicks(order.OfferID, 3800)
	if _, err := h.traffic.Distributor.Unbind(ctx, orderID); err != nil {
		t.Fatalf("unbind failed: %v", err)
	}
	if _, err := h.orders.Service.TransitionTo(ctx, orderID, orderentities.StatusProcessing); err != nil {
		t.Fatalf("transition failed: %v", err)
	}
	h.orders.Counter.SetValue(pipelineLink, 5900)

	// The next monitor cycle sweeps PROCESSING and finishes the handoff.
	if err := h.monitor.RunOnce(ctx); err != nil {
		t.Fatalf("monitor pass failed: %v", err)
	}
	order, _ = h.orders.Service.GetOrder(ctx, orderID)
	if order.Status != orderentities.StatusActive {
		t.Fatalf("expected ACTIVE after rescue, got %s", order.Status)
	}
	if order.Delivered != 900 {
		t.Fatalf("expected delivered 900 from the second baseline, got %d", order.Delivered)
	}
}

func TestPipelineDuplicateCreatedEventIsHarmless(t *testing.T) {
	h, ctx := newPipelineHarness(t)

	orderID := h.createOrder(t, ctx, 1000, 10)
	order := h.waitForStatus(t, ctx, orderID, orderentities.StatusInProgress)
	versionAfterBind := order.Version

	// Simulate a broker redelivery by running fulfillment again directly;
	// the state machine guard makes the replay a no-op.
	if err := h.orders.Service.StartFulfillment(ctx, orderID); err != nil {
		t.Fatalf("replayed fulfillment must not fail: %v", err)
	}
	order, _ = h.orders.Service.GetOrder(ctx, orderID)
	if order.Version != versionAfterBind {
		t.Fatalf("replay must not mutate the order, version %d -> %d", versionAfterBind, order.Version)
	}
	if got := h.balance(t, ctx); got != 90 {
		t.Fatalf("replay must not double-charge, balance %v", got)
	}
}
