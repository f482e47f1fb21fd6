package application

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	"boostpanel/contexts/fulfillment/order-service/domain/statemachine"
	"boostpanel/contexts/fulfillment/order-service/ports"
	"boostpanel/internal/shared/events"
)

const (
	defaultTransitionRetries = 5
	transitionBaseDelay      = 25 * time.Millisecond

	defaultVerifyInterval    = 10 * time.Minute
	defaultVerifyMaxAttempts = 12
	defaultMaxBrokerFailures = 3
	defaultProgressTTL       = 14 * 24 * time.Hour
	defaultEarlyPullFraction = 0.95
)

type Service struct {
	Repo     ports.Repository
	Counter  ports.CounterSource
	Ledger   ports.Ledger
	Traffic  ports.TrafficPlanner
	Progress ports.ProgressCache
	Events   ports.EventPublisher
	Notifier ports.Notifier
	Clock    ports.Clock
	IDGen    ports.IDGenerator

	EarlyPullFraction float64
	VerifyInterval    time.Duration
	VerifyMaxAttempts int
	MaxBrokerFailures int
	ProgressTTL       time.Duration
	MaxRetries        int

	Logger *slog.Logger
}

type CreateOrderInput struct {
	UserID       string
	ServiceID    string
	Link         string
	Quantity     int64
	Charge       float64
	ClipEligible bool
}

type orderEventPayload struct {
	OrderID      string `json:"order_id"`
	UserID       string `json:"user_id"`
	ServiceID    string `json:"service_id"`
	Link         string `json:"link"`
	Quantity     int64  `json:"quantity"`
	ClipEligible bool   `json:"clip_eligible"`
	Refill       bool   `json:"refill"`
}

// CreateOrder reserves the charge, captures the first baseline, and admits
// the order into the pipeline. A target with a zero or unreadable counter is
// refunded in full and parked in PARTIAL without ever entering fulfillment.
func (s Service) CreateOrder(ctx context.Context, input CreateOrderInput) (entities.Order, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.ServiceID = strings.TrimSpace(input.ServiceID)
	input.Link = strings.TrimSpace(input.Link)
	if input.UserID == "" || input.ServiceID == "" || input.Link == "" {
		return entities.Order{}, domainerrors.ErrInvalidInput
	}
	if input.Quantity <= 0 || input.Charge <= 0 {
		return entities.Order{}, domainerrors.ErrInvalidInput
	}

	orderID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return entities.Order{}, err
	}

	reserved, err := s.Ledger.Reserve(ctx, input.UserID, input.Charge, orderID, "reserve:"+orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if !reserved {
		s.logWarn("order rejected for insufficient funds", "order_insufficient_funds",
			"user_id", input.UserID, "charge", input.Charge)
		return entities.Order{}, domainerrors.ErrInsufficientFunds
	}

	now := s.Clock.Now().UTC()
	order := entities.Order{
		ID:           orderID,
		UserID:       input.UserID,
		ServiceID:    input.ServiceID,
		Link:         input.Link,
		Quantity:     input.Quantity,
		Charge:       input.Charge,
		ClipEligible: input.ClipEligible,
		Status:       entities.StatusPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	baseline, baselineErr := s.Counter.GetPublicCounter(ctx, input.Link)
	if baselineErr != nil || baseline == 0 {
		order.Status = entities.StatusPartial
		if err := s.Repo.CreateOrder(ctx, order); err != nil {
			return entities.Order{}, err
		}
		if err := s.Ledger.Refund(ctx, input.UserID, input.Charge, orderID,
			"full refund: target counter unavailable at creation", "refund:"+orderID); err != nil {
			return entities.Order{}, err
		}
		s.notify(ctx, "order_refunded_at_creation", orderID, map[string]string{
			"user_id": input.UserID,
			"reason":  "zero or unreachable baseline",
		})
		s.logWarn("order refunded at creation", "order_zero_baseline",
			"order_id", orderID, "link", input.Link)
		return order, nil
	}

	order.StartCount = baseline
	if err := s.Repo.CreateOrder(ctx, order); err != nil {
		return entities.Order{}, err
	}
	if err := s.publishOrderEvent(ctx, events.TopicOrderCreated, order, false); err != nil {
		return entities.Order{}, err
	}

	s.logInfo("order created", "order_created",
		"order_id", orderID,
		"user_id", input.UserID,
		"service_id", input.ServiceID,
		"quantity", input.Quantity,
		"start_count", baseline,
	)
	return order, nil
}

func (s Service) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	return s.Repo.GetOrder(ctx, orderID)
}

func (s Service) ListOrders(ctx context.Context, userID string, limit int, offset int) ([]entities.Order, error) {
	return s.Repo.ListOrdersByUser(ctx, userID, limit, offset)
}

// TransitionTo reloads the order, validates the edge, and saves under the
// version guard, retrying the whole sequence on optimistic conflicts.
func (s Service) TransitionTo(ctx context.Context, orderID string, target entities.OrderStatus) (entities.Order, error) {
	return s.transition(ctx, orderID, target, nil)
}

// Cancel unbinds traffic if bound, moves the order to CANCELLED, and then
// refunds the undelivered portion. The refund follows the terminal
// transition: once CANCELLED the completion edge is closed, so a verifier
// finishing the order concurrently can never leave both the delivery and
// the money with the user.
func (s Service) Cancel(ctx context.Context, orderID string, reason string) (entities.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.Terminal() || order.Status == entities.StatusCancelled {
		return entities.Order{}, domainerrors.ErrOrderTerminal
	}
	if order.Status == entities.StatusCompleted {
		return entities.Order{}, domainerrors.ErrOrderTerminal
	}

	if order.OfferID != "" {
		if err := s.Traffic.Unbind(ctx, orderID); err != nil {
			return s.parkHolding(ctx, orderID, "cancel unbind failed: "+err.Error())
		}
	}

	// Best-effort refresh of delivered views so the refund reflects what
	// actually landed. An unreachable counter falls back to the last known
	// value.
	if current, err := s.Counter.GetPublicCounter(ctx, order.Link); err == nil {
		if grown := current - order.StartCount; grown > order.Delivered {
			order.Delivered = grown
		}
	}

	// ACTIVE has no direct edge to CANCELLED; it pauses first. A verifier
	// completing the order in the meantime makes either transition fail
	// before any money moved.
	if order.Status == entities.StatusActive {
		if _, err := s.transition(ctx, orderID, entities.StatusPaused, nil); err != nil {
			return entities.Order{}, err
		}
	}
	delivered := order.Delivered
	cancelled, err := s.transition(ctx, orderID, entities.StatusCancelled, func(o *entities.Order) {
		o.OfferID = ""
		o.CampaignIDs = nil
		if delivered > o.Delivered {
			o.Delivered = delivered
		}
	})
	if err != nil {
		return entities.Order{}, err
	}

	if refund := proportionalRefund(cancelled); refund > 0 {
		if err := s.Ledger.Refund(ctx, order.UserID, refund, orderID,
			"cancellation refund: "+strings.TrimSpace(reason), "cancel-refund:"+orderID); err != nil {
			// The order is already terminal; the refund is owed and keyed,
			// so operators can replay it through the adjustment path.
			s.notify(ctx, "order_cancel_refund_failed", orderID, map[string]string{
				"user_id": order.UserID,
				"amount":  formatAmount(refund),
				"error":   err.Error(),
			})
			s.logWarn("cancel refund failed after transition", "order_cancel_refund_failed",
				"order_id", orderID, "amount", refund, "error", err.Error())
			return entities.Order{}, err
		}
	}

	if err := s.Progress.Delete(ctx, orderID); err != nil {
		s.logWarn("progress cache cleanup failed", "order_cache_cleanup_failed",
			"order_id", orderID, "error", err.Error())
	}
	s.notify(ctx, "order_cancelled", orderID, map[string]string{"reason": reason})
	s.logInfo("order cancelled", "order_cancelled", "order_id", orderID, "reason", reason)
	return cancelled, nil
}

// Refill re-opens a completed order into a fresh fulfillment cycle with a
// new first baseline.
func (s Service) Refill(ctx context.Context, orderID string) (entities.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.Status != entities.StatusCompleted {
		return entities.Order{}, domainerrors.ErrOrderNotRefillable
	}

	baseline, err := s.Counter.GetPublicCounter(ctx, order.Link)
	if err != nil {
		return entities.Order{}, domainerrors.ErrTargetUnreachable
	}

	refilled, err := s.transition(ctx, orderID, entities.StatusRefill, func(o *entities.Order) {
		o.StartCount = baseline
		o.SecondStartCount = nil
		o.Delivered = 0
		o.VerifyAttempts = 0
		o.FailCount = 0
		o.OfferID = ""
		o.CampaignIDs = nil
	})
	if err != nil {
		return entities.Order{}, err
	}
	if err := s.publishOrderEvent(ctx, events.TopicOrderCreated, refilled, true); err != nil {
		return entities.Order{}, err
	}
	s.logInfo("order refill started", "order_refill_started",
		"order_id", orderID, "start_count", baseline)
	return refilled, nil
}

// ForcePartial is the audited administrative override. It bypasses the
// transition table, refunds the undelivered portion, and records who and
// why through the notifier.
func (s Service) ForcePartial(ctx context.Context, orderID string, actor string, reason string) (entities.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.Terminal() {
		return entities.Order{}, domainerrors.ErrOrderTerminal
	}

	if order.OfferID != "" {
		if err := s.Traffic.Unbind(ctx, orderID); err != nil {
			s.logWarn("force partial unbind failed", "order_force_partial_unbind_failed",
				"order_id", orderID, "error", err.Error())
		}
	}
	if refund := proportionalRefund(order); refund > 0 {
		if err := s.Ledger.Refund(ctx, order.UserID, refund, orderID,
			"forced partial: "+strings.TrimSpace(reason), "partial-refund:"+orderID); err != nil {
			return entities.Order{}, err
		}
	}

	forced, err := s.forceStatus(ctx, orderID, entities.StatusPartial)
	if err != nil {
		return entities.Order{}, err
	}
	s.notify(ctx, "order_forced_partial", orderID, map[string]string{
		"actor":  actor,
		"reason": reason,
	})
	s.logWarn("order forced to partial", "order_forced_partial",
		"order_id", orderID, "actor", actor, "reason", reason)
	return forced, nil
}

// transition implements the reload-validate-save sequence. mutate, when
// non-nil, is applied to the reloaded order inside the same save so field
// updates ride the version guard.
func (s Service) transition(ctx context.Context, orderID string, target entities.OrderStatus, mutate func(*entities.Order)) (entities.Order, error) {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultTransitionRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return entities.Order{}, err
			}
		}

		order, err := s.Repo.GetOrder(ctx, orderID)
		if err != nil {
			return entities.Order{}, err
		}
		if err := statemachine.Validate(order.Status, target); err != nil {
			return entities.Order{}, err
		}
		if order.Status == target && mutate == nil {
			return order, nil
		}

		expectedVersion := order.Version
		order.Status = target
		if mutate != nil {
			mutate(&order)
		}
		order.Version = expectedVersion + 1
		order.UpdatedAt = s.Clock.Now().UTC()

		err = s.Repo.SaveOrder(ctx, order, expectedVersion)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, domainerrors.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return entities.Order{}, err
	}
	s.logWarn("order transition retries exhausted", "order_transition_retries_exhausted",
		"order_id", orderID, "target", string(target), "retries", retries)
	return entities.Order{}, lastErr
}

// forceStatus writes a status outside the transition table. Only the
// audited administrative path uses it.
func (s Service) forceStatus(ctx context.Context, orderID string, target entities.OrderStatus) (entities.Order, error) {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultTransitionRetries
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return entities.Order{}, err
			}
		}
		order, err := s.Repo.GetOrder(ctx, orderID)
		if err != nil {
			return entities.Order{}, err
		}
		expectedVersion := order.Version
		order.Status = target
		order.Version = expectedVersion + 1
		order.UpdatedAt = s.Clock.Now().UTC()
		err = s.Repo.SaveOrder(ctx, order, expectedVersion)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, domainerrors.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return entities.Order{}, err
	}
	return entities.Order{}, lastErr
}

func (s Service) parkHolding(ctx context.Context, orderID string, reason string) (entities.Order, error) {
	held, err := s.transition(ctx, orderID, entities.StatusHolding, nil)
	if err != nil {
		return entities.Order{}, err
	}
	s.notify(ctx, "order_holding", orderID, map[string]string{"reason": reason})
	s.logWarn("order parked in holding", "order_holding", "order_id", orderID, "reason", reason)
	return held, nil
}

func (s Service) publishOrderEvent(ctx context.Context, topic string, order entities.Order, refill bool) error {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := events.New(eventID, topic, "order-service", "order_id", order.ID,
		s.Clock.Now().UTC(), orderEventPayload{
			OrderID:      order.ID,
			UserID:       order.UserID,
			ServiceID:    order.ServiceID,
			Link:         order.Link,
			Quantity:     order.Quantity,
			ClipEligible: order.ClipEligible,
			Refill:       refill,
		})
	if err != nil {
		return err
	}
	return s.Events.Publish(ctx, topic, envelope)
}

func (s Service) notify(ctx context.Context, kind string, orderID string, details map[string]string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Notify(ctx, kind, orderID, details)
}

func formatAmount(value float64) string {
	return strconv.FormatFloat(value, 'f', 4, 64)
}

func proportionalRefund(order entities.Order) float64 {
	if order.Quantity <= 0 {
		return 0
	}
	return order.Charge * float64(order.Remains()) / float64(order.Quantity)
}

func (s Service) earlyPullFraction() float64 {
	if s.EarlyPullFraction <= 0 || s.EarlyPullFraction > 1 {
		return defaultEarlyPullFraction
	}
	return s.EarlyPullFraction
}

func (s Service) verifyInterval() time.Duration {
	if s.VerifyInterval <= 0 {
		return defaultVerifyInterval
	}
	return s.VerifyInterval
}

func (s Service) verifyMaxAttempts() int {
	if s.VerifyMaxAttempts <= 0 {
		return defaultVerifyMaxAttempts
	}
	return s.VerifyMaxAttempts
}

func (s Service) maxBrokerFailures() int {
	if s.MaxBrokerFailures <= 0 {
		return defaultMaxBrokerFailures
	}
	return s.MaxBrokerFailures
}

func (s Service) progressTTL() time.Duration {
	if s.ProgressTTL <= 0 {
		return defaultProgressTTL
	}
	return s.ProgressTTL
}

func (s Service) logInfo(msg string, event string, args ...any) {
	ResolveLogger(s.Logger).Info(msg, append([]any{
		"event", event,
		"module", "fulfillment/order-service",
		"layer", "application",
	}, args...)...)
}

func (s Service) logWarn(msg string, event string, args ...any) {
	ResolveLogger(s.Logger).Warn(msg, append([]any{
		"event", event,
		"module", "fulfillment/order-service",
		"layer", "application",
	}, args...)...)
}

// ResolveLogger falls back to the process default so workers and adapters
// never nil-check.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func sleepWithJitter(ctx context.Context, attempt int) error {
	delay := transitionBaseDelay * time.Duration(1<<uint(attempt-1))
	delay += time.Duration(rand.Int63n(int64(transitionBaseDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
