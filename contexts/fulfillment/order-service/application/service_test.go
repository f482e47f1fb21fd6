package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ledgermemory "boostpanel/contexts/finance-core/ledger-service/adapters/memory"
	ledgerapp "boostpanel/contexts/finance-core/ledger-service/application"
	ledgerentities "boostpanel/contexts/finance-core/ledger-service/domain/entities"
	"boostpanel/contexts/fulfillment/order-service/adapters/memory"
	"boostpanel/contexts/fulfillment/order-service/adapters/progresscache"
	"boostpanel/contexts/fulfillment/order-service/adapters/traffic"
	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	"boostpanel/contexts/fulfillment/order-service/ports"
	trafficmemory "boostpanel/contexts/fulfillment/traffic-service/adapters/memory"
	trafficapp "boostpanel/contexts/fulfillment/traffic-service/application"
	trafficentities "boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	platformcache "boostpanel/internal/platform/cache"
	"boostpanel/internal/shared/events"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []capturedEvent
}

type capturedEvent struct {
	Topic    string
	Envelope events.Envelope
}

func (p *capturingPublisher) Publish(_ context.Context, topic string, event events.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, capturedEvent{Topic: topic, Envelope: event})
	return nil
}

func (p *capturingPublisher) byTopic(topic string) []capturedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]capturedEvent, 0)
	for _, event := range p.events {
		if event.Topic == topic {
			matched = append(matched, event)
		}
	}
	return matched
}

type pipeline struct {
	service   Service
	store     *memory.Store
	counter   *memory.Counter
	ledger    ledgerapp.Service
	broker    *trafficmemory.Broker
	publisher *capturingPublisher
	clock     *testClock
}

func newPipeline(t *testing.T, balance float64) *pipeline {
	t.Helper()

	clock := &testClock{now: time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)}

	ledgerStore := ledgermemory.NewStore([]ledgerentities.Account{
		{UserID: "user_1", Balance: balance, UpdatedAt: clock.Now()},
	})
	ledgerService := ledgerapp.Service{Repo: ledgerStore, Clock: clock, IDGen: ledgerStore}

	trafficStore := trafficmemory.NewStore([]trafficentities.CampaignEndpoint{
		{ID: "camp_a", Weight: 50, Priority: 3, Active: true},
		{ID: "camp_b", Weight: 30, Priority: 2, Active: true},
		{ID: "camp_c", Weight: 20, Priority: 1, Active: true},
	})
	broker := trafficmemory.NewBroker()
	planner := traffic.Planner{
		Resolver: trafficapp.Resolver{Coefficients: trafficStore},
		Distributor: trafficapp.Distributor{
			Repo:   trafficStore,
			Broker: broker,
			Clock:  clock,
			IDGen:  trafficStore,
		},
	}

	store := memory.NewStore()
	counter := memory.NewCounter()
	publisher := &capturingPublisher{}

	service := Service{
		Repo:              store,
		Counter:           counter,
		Ledger:            ledgerService,
		Traffic:           planner,
		Progress:          progresscache.New(platformcache.NewMemoryWithClock(clock.Now)),
		Events:            publisher,
		Clock:             clock,
		IDGen:             store,
		EarlyPullFraction: 0.95,
		VerifyInterval:    10 * time.Minute,
		VerifyMaxAttempts: 3,
	}

	return &pipeline{
		service:   service,
		store:     store,
		counter:   counter,
		ledger:    ledgerService,
		broker:    broker,
		publisher: publisher,
		clock:     clock,
	}
}

func TestCreateOrderReservesChargeAndPublishes(t *testing.T) {
	p := newPipeline(t, 100)
	p.counter.SetValue("https://example.com/v/1", 5000)

	order, err := p.service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    "user_1",
		ServiceID: "views_standard",
		Link:      "https://example.com/v/1",
		Quantity:  1000,
		Charge:    10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if order.Status != entities.StatusPending {
		t.Fatalf("expected PENDING, got %s", order.Status)
	}
	if order.StartCount != 5000 {
		t.Fatalf("expected start count 5000, got %d", order.StartCount)
	}

	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 90 {
		t.Fatalf("expected balance 90 after reserve, got %v", balance)
	}
	if created := p.publisher.byTopic(events.TopicOrderCreated); len(created) != 1 {
		t.Fatalf("expected one order.created event, got %d", len(created))
	}
}

func TestCreateOrderInsufficientFunds(t *testing.T) {
	p := newPipeline(t, 5)
	p.counter.SetValue("https://example.com/v/1", 5000)

	_, err := p.service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    "user_1",
		ServiceID: "views_standard",
		Link:      "https://example.com/v/1",
		Quantity:  1000,
		Charge:    10,
	})
	if !errors.Is(err, domainerrors.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if len(p.publisher.events) != 0 {
		t.Fatalf("expected no events, got %d", len(p.publisher.events))
	}
}

func TestCreateOrderZeroBaselineRefundsInFull(t *testing.T) {
	p := newPipeline(t, 100)
	// Counter never set: the target reads zero.

	order, err := p.service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    "user_1",
		ServiceID: "views_standard",
		Link:      "https://example.com/v/deleted",
		Quantity:  1000,
		Charge:    10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if order.Status != entities.StatusPartial {
		t.Fatalf("expected PARTIAL, got %s", order.Status)
	}

	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 100 {
		t.Fatalf("expected full refund back to 100, got %v", balance)
	}
	if len(p.publisher.byTopic(events.TopicOrderCreated)) != 0 {
		t.Fatal("zero-baseline order must not publish order.created")
	}
}

func TestCreateOrderUnreachableTargetRefundsInFull(t *testing.T) {
	p := newPipeline(t, 100)
	p.counter.SetUnreachable("https://example.com/v/private", true)

	order, err := p.service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    "user_1",
		ServiceID: "views_standard",
		Link:      "https://example.com/v/private",
		Quantity:  1000,
		Charge:    10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if order.Status != entities.StatusPartial {
		t.Fatalf("expected PARTIAL, got %s", order.Status)
	}
	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 100 {
		t.Fatalf("expected full refund, got balance %v", balance)
	}
}

func createAndStart(t *testing.T, p *pipeline) entities.Order {
	t.Helper()
	p.counter.SetValue("https://example.com/v/1", 5000)
	order, err := p.service.CreateOrder(context.Background(), CreateOrderInput{
		UserID:    "user_1",
		ServiceID: "views_standard",
		Link:      "https://example.com/v/1",
		Quantity:  1000,
		Charge:    10,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := p.service.StartFulfillment(context.Background(), order.ID); err != nil {
		t.Fatalf("start fulfillment failed: %v", err)
	}
	started, err := p.store.GetOrder(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	return started
}

func TestStartFulfillmentBindsTraffic(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	if order.Status != entities.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", order.Status)
	}
	// 1000 quantity at the default 4.0 non-clip coefficient.
	if order.RequiredTraffic != 4000 {
		t.Fatalf("expected required traffic 4000, got %d", order.RequiredTraffic)
	}
	if order.OfferID == "" || len(order.CampaignIDs) != 3 {
		t.Fatalf("expected offer bound to 3 campaigns, got offer=%q campaigns=%v", order.OfferID, order.CampaignIDs)
	}
}

func TestStartFulfillmentReplayIsHarmless(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	if err := p.service.StartFulfillment(context.Background(), order.ID); err != nil {
		t.Fatalf("replayed start failed: %v", err)
	}
	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Version != order.Version {
		t.Fatalf("replay must not mutate: version %d -> %d", order.Version, reloaded.Version)
	}
}

func TestCheckProgressBelowThresholdKeepsRunning(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3700)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}
	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusInProgress {
		t.Fatalf("expected still IN_PROGRESS at 3700/4000, got %s", reloaded.Status)
	}
	if reloaded.Version != order.Version {
		t.Fatal("below-threshold pass must not mutate the order")
	}
}

func TestCheckProgressStopsAtThreshold(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	// 0.95 * 4000 = 3800.
	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 5900)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}

	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusActive {
		t.Fatalf("expected ACTIVE after stop, got %s", reloaded.Status)
	}
	if reloaded.SecondStartCount == nil || *reloaded.SecondStartCount != 5900 {
		t.Fatalf("expected second baseline 5900, got %v", reloaded.SecondStartCount)
	}
	if reloaded.Delivered != 900 {
		t.Fatalf("expected delivered views 900 at stop, got %d", reloaded.Delivered)
	}
	if len(p.broker.Attachments(order.OfferID)) != 0 {
		t.Fatal("expected offer detached after stop")
	}
	if len(p.publisher.byTopic(events.TopicOrderProgress)) != 1 {
		t.Fatal("expected one order.progress event")
	}

	// A second monitor pass must not stop again.
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("second pass failed: %v", err)
	}
	if len(p.publisher.byTopic(events.TopicOrderProgress)) != 1 {
		t.Fatal("stop must be once-only")
	}
}

// flakyProgressCache injects cache outages around an otherwise working
// progress cache.
type flakyProgressCache struct {
	ports.ProgressCache
	mu      sync.Mutex
	failPut bool
}

func (c *flakyProgressCache) setFailPut(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failPut = fail
}

func (c *flakyProgressCache) Put(ctx context.Context, orderID string, record ports.ProgressRecord, ttl time.Duration) error {
	c.mu.Lock()
	fail := c.failPut
	c.mu.Unlock()
	if fail {
		return errors.New("cache unavailable")
	}
	return c.ProgressCache.Put(ctx, orderID, record, ttl)
}

func TestCheckProgressResumesInterruptedHandoff(t *testing.T) {
	p := newPipeline(t, 100)
	flaky := &flakyProgressCache{ProgressCache: p.service.Progress}
	p.service.Progress = flaky
	order := createAndStart(t, p)

	// The cache dies between the traffic stop and the ACTIVE handoff.
	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 5900)
	flaky.setFailPut(true)
	if err := p.service.CheckProgress(context.Background(), order.ID); err == nil {
		t.Fatal("expected cache failure to surface")
	}
	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusProcessing {
		t.Fatalf("expected PROCESSING after interrupted handoff, got %s", reloaded.Status)
	}
	if len(p.broker.Attachments(order.OfferID)) != 0 {
		t.Fatal("expected traffic already stopped")
	}

	// The next monitor pass picks the order back up and finishes the handoff.
	flaky.setFailPut(false)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("resumed pass failed: %v", err)
	}
	reloaded, _ = p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusActive {
		t.Fatalf("expected ACTIVE after resumed handoff, got %s", reloaded.Status)
	}
	if reloaded.SecondStartCount == nil || *reloaded.SecondStartCount != 5900 {
		t.Fatalf("expected second baseline 5900, got %v", reloaded.SecondStartCount)
	}
	if len(p.publisher.byTopic(events.TopicOrderProgress)) != 1 {
		t.Fatal("expected one order.progress event after resume")
	}
}

// interceptRepo runs a hook before every read so tests can interleave
// concurrent writes at exact points of a use case.
type interceptRepo struct {
	ports.Repository
	mu    sync.Mutex
	onGet func(orderID string)
}

func (r *interceptRepo) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	r.mu.Lock()
	hook := r.onGet
	r.mu.Unlock()
	if hook != nil {
		hook(orderID)
	}
	return r.Repository.GetOrder(ctx, orderID)
}

func TestCancelLosingToConcurrentCompletionKeepsCharge(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 6000)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}

	// The verifier completes the order between the cancel's initial read and
	// its status transition.
	repo := &interceptRepo{Repository: p.store}
	calls := 0
	repo.onGet = func(id string) {
		calls++
		if calls != 2 {
			return
		}
		current, err := p.store.GetOrder(context.Background(), id)
		if err != nil || current.Status != entities.StatusActive {
			return
		}
		expected := current.Version
		current.Status = entities.StatusCompleted
		current.Delivered = current.Quantity
		current.Version = expected + 1
		if err := p.store.SaveOrder(context.Background(), current, expected); err != nil {
			t.Errorf("concurrent completion failed: %v", err)
		}
	}
	cancelService := p.service
	cancelService.Repo = repo

	_, err := cancelService.Cancel(context.Background(), order.ID, "user request")
	if !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusCompleted {
		t.Fatalf("expected order to stay COMPLETED, got %s", reloaded.Status)
	}
	// No refund moved: the charge for the delivered order stands.
	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 90 {
		t.Fatalf("expected charge kept at balance 90, got %v", balance)
	}
}

func TestVerifyDeliveryCompletesWhenQuantityMet(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 5900)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}

	// Residual traffic lands after the stop: 6000 - 5000 >= 1000.
	p.counter.SetValue("https://example.com/v/1", 6000)
	p.clock.Advance(11 * time.Minute)
	if err := p.service.VerifyDelivery(context.Background(), order.ID); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", reloaded.Status)
	}
	if reloaded.Delivered != 1000 {
		t.Fatalf("expected delivered 1000, got %d", reloaded.Delivered)
	}
	if len(p.publisher.byTopic(events.TopicOrderCompleted)) != 1 {
		t.Fatal("expected one order.completed event")
	}
}

func TestVerifyDeliveryExhaustionParksHolding(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 5800)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}

	// Counter stalls at 5800: delivered 800 < 1000 on every pass.
	for i := 0; i < 3; i++ {
		p.clock.Advance(11 * time.Minute)
		if err := p.service.VerifyDelivery(context.Background(), order.ID); err != nil {
			t.Fatalf("verify pass %d failed: %v", i, err)
		}
	}

	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusHolding {
		t.Fatalf("expected HOLDING after exhausted attempts, got %s", reloaded.Status)
	}
	if len(p.publisher.byTopic(events.TopicOrderCompleted)) != 0 {
		t.Fatal("stalled order must not complete")
	}
}

func TestVerifyDeliverySkipsBeforeDueTime(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 6000)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}

	// Not yet due: no verification happens even though quantity is met.
	if err := p.service.VerifyDelivery(context.Background(), order.ID); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusActive {
		t.Fatalf("expected ACTIVE before due time, got %s", reloaded.Status)
	}
}

func TestCancelRefundsProportionally(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	// 250 of the 1000 ordered views landed before the cancel.
	p.counter.SetValue("https://example.com/v/1", 5250)
	cancelled, err := p.service.Cancel(context.Background(), order.ID, "user request")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != entities.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	if cancelled.Delivered != 250 {
		t.Fatalf("expected delivered 250 at cancel, got %d", cancelled.Delivered)
	}
	if len(p.broker.Attachments(order.OfferID)) != 0 {
		t.Fatal("expected traffic unbound on cancel")
	}

	// Charge 10, remains 750/1000: refund 7.50 on top of the 90 left.
	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 97.5 {
		t.Fatalf("expected balance 97.5 after proportional refund, got %v", balance)
	}
}

func TestCancelBeforeDeliveryRefundsEverything(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	cancelled, err := p.service.Cancel(context.Background(), order.ID, "changed my mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != entities.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}
	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 100 {
		t.Fatalf("expected full refund before delivery, got %v", balance)
	}
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	if _, err := p.service.Cancel(context.Background(), order.ID, "first"); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	_, err := p.service.Cancel(context.Background(), order.ID, "second")
	if !errors.Is(err, domainerrors.ErrOrderTerminal) {
		t.Fatalf("expected ErrOrderTerminal, got %v", err)
	}
}

func TestRefillReopensCompletedOrder(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	p.broker.SetClicks(order.OfferID, 3800)
	p.counter.SetValue("https://example.com/v/1", 6000)
	if err := p.service.CheckProgress(context.Background(), order.ID); err != nil {
		t.Fatalf("check progress failed: %v", err)
	}
	p.clock.Advance(11 * time.Minute)
	if err := p.service.VerifyDelivery(context.Background(), order.ID); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	refilled, err := p.service.Refill(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("refill failed: %v", err)
	}
	if refilled.Status != entities.StatusRefill {
		t.Fatalf("expected REFILL, got %s", refilled.Status)
	}
	if refilled.StartCount != 6000 {
		t.Fatalf("expected fresh baseline 6000, got %d", refilled.StartCount)
	}
	if refilled.Delivered != 0 || refilled.SecondStartCount != nil {
		t.Fatal("expected delivery counters reset on refill")
	}
	if len(p.publisher.byTopic(events.TopicOrderCreated)) != 2 {
		t.Fatal("expected a second order.created event for the refill cycle")
	}
}

func TestForcePartialAuditedOverride(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	forced, err := p.service.ForcePartial(context.Background(), order.ID, "admin_7", "broker dispute")
	if err != nil {
		t.Fatalf("force partial failed: %v", err)
	}
	if forced.Status != entities.StatusPartial {
		t.Fatalf("expected PARTIAL, got %s", forced.Status)
	}
	balance, _ := p.ledger.Balance(context.Background(), "user_1")
	if balance != 100 {
		t.Fatalf("expected full refund (nothing delivered), got %v", balance)
	}
}

func TestTransitionToIllegalEdgeMutatesNothing(t *testing.T) {
	p := newPipeline(t, 100)
	order := createAndStart(t, p)

	_, err := p.service.TransitionTo(context.Background(), order.ID, entities.StatusCompleted)
	if !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	reloaded, _ := p.store.GetOrder(context.Background(), order.ID)
	if reloaded.Status != entities.StatusInProgress || reloaded.Version != order.Version {
		t.Fatal("illegal transition must not mutate the order")
	}
}
