package application

import (
	"context"
	"math"
	"strconv"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	"boostpanel/contexts/fulfillment/order-service/ports"
	"boostpanel/internal/shared/events"
)

type progressEventPayload struct {
	OrderID         string `json:"order_id"`
	Delivered       int64  `json:"delivered"`
	RequiredTraffic int64  `json:"required_traffic"`
	SecondBaseline  int64  `json:"second_baseline"`
}

type completedEventPayload struct {
	OrderID   string `json:"order_id"`
	Delivered int64  `json:"delivered"`
	Quantity  int64  `json:"quantity"`
}

// StartFulfillment moves a created (or refilled) order into traffic. It is
// driven by the order.created consumer and is safe to replay: an order
// already past PENDING/REFILL is left alone.
func (s Service) StartFulfillment(ctx context.Context, orderID string) error {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case entities.StatusPending, entities.StatusRefill:
	case entities.StatusInProgress:
		return nil
	default:
		s.logWarn("fulfillment start skipped", "order_start_skipped",
			"order_id", orderID, "status", string(order.Status))
		return nil
	}

	required, coefficient, err := s.Traffic.RequiredTraffic(ctx, order.ServiceID, order.Quantity, order.ClipEligible)
	if err != nil {
		return err
	}
	offerID, campaignIDs, err := s.Traffic.Bind(ctx, orderID, "order "+orderID, order.Link, required)
	if err != nil {
		return err
	}

	if _, err := s.transition(ctx, orderID, entities.StatusInProgress, func(o *entities.Order) {
		o.RequiredTraffic = required
		o.Coefficient = coefficient
		o.OfferID = offerID
		o.CampaignIDs = campaignIDs
	}); err != nil {
		return err
	}

	s.logInfo("fulfillment started", "order_fulfillment_started",
		"order_id", orderID,
		"required_traffic", required,
		"coefficient", coefficient,
		"offer_id", offerID,
	)
	return nil
}

// CheckProgress is one monitor pass over a single running order. Once
// delivered traffic crosses the early-pull threshold it stops traffic,
// captures the second baseline, and hands the order to the verifier. The
// once-only stop is guarded by the IN_PROGRESS→PROCESSING edge, not by any
// monitor-side flag. An order found already in PROCESSING had its handoff
// interrupted (cache failure or crash after the stop); the pass resumes it
// instead of leaving it stranded.
func (s Service) CheckProgress(ctx context.Context, orderID string) error {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case entities.StatusInProgress:
	case entities.StatusProcessing:
		delivered, statsErr := s.Traffic.Delivered(ctx, orderID)
		if statsErr != nil {
			s.logWarn("stats unavailable on handoff resume", "order_handoff_stats_failed",
				"order_id", orderID, "error", statsErr.Error())
			delivered = 0
		}
		return s.finishTrafficStop(ctx, order, delivered)
	default:
		return nil
	}

	delivered, err := s.Traffic.Delivered(ctx, orderID)
	if err != nil {
		return s.recordBrokerFailure(ctx, order, "stats query failed: "+err.Error())
	}

	threshold := int64(math.Ceil(s.earlyPullFraction() * float64(order.RequiredTraffic)))
	if delivered < threshold {
		return nil
	}

	if err := s.Traffic.Unbind(ctx, orderID); err != nil {
		return s.recordBrokerFailure(ctx, order, "unbind failed: "+err.Error())
	}

	if _, err := s.transition(ctx, orderID, entities.StatusProcessing, func(o *entities.Order) {
		o.FailCount = 0
	}); err != nil {
		return err
	}

	s.logInfo("traffic stopped at threshold", "order_traffic_stopped",
		"order_id", orderID,
		"delivered", delivered,
		"threshold", threshold,
	)
	return s.finishTrafficStop(ctx, order, delivered)
}

// finishTrafficStop completes the PROCESSING→ACTIVE handoff: capture the
// second baseline, seed the verifier schedule, publish progress. Every step
// is safe to re-run, so a failure anywhere leaves the order in PROCESSING
// for the next monitor pass to resume.
func (s Service) finishTrafficStop(ctx context.Context, order entities.Order, delivered int64) error {
	secondBaseline, err := s.Counter.GetPublicCounter(ctx, order.Link)
	if err != nil {
		// Traffic is already stopped; verification starts from an unknown
		// second baseline and relies on the first baseline alone.
		s.logWarn("second baseline capture failed", "order_second_baseline_failed",
			"order_id", order.ID, "error", err.Error())
		secondBaseline = 0
	}

	record := ports.ProgressRecord{
		SecondBaseline: secondBaseline,
		NextCheckAt:    s.Clock.Now().UTC().Add(s.verifyInterval()),
	}
	if err := s.Progress.Put(ctx, order.ID, record, s.progressTTL()); err != nil {
		return err
	}

	// Delivered on the order counts counter growth, not broker clicks; the
	// clicks live on the traffic assignment.
	updated, err := s.transition(ctx, order.ID, entities.StatusActive, func(o *entities.Order) {
		if secondBaseline > 0 {
			captured := secondBaseline
			o.SecondStartCount = &captured
			if grown := secondBaseline - o.StartCount; grown > 0 {
				o.Delivered = grown
			}
		}
	})
	if err != nil {
		return err
	}

	if err := s.publishProgressEvent(ctx, updated, delivered, secondBaseline); err != nil {
		return err
	}
	s.logInfo("order handed to verification", "order_verification_handoff",
		"order_id", order.ID,
		"delivered", delivered,
		"second_baseline", secondBaseline,
	)
	return nil
}

// VerifyDelivery is one verifier pass over a single order awaiting
// confirmation. It compares the target's public counter against the first
// baseline; the quantity is met when the counter grew by at least the
// ordered amount.
func (s Service) VerifyDelivery(ctx context.Context, orderID string) error {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != entities.StatusActive {
		return nil
	}

	record, found, err := s.Progress.Get(ctx, orderID)
	if err != nil {
		return err
	}
	now := s.Clock.Now().UTC()
	if found && now.Before(record.NextCheckAt) {
		return nil
	}
	if !found {
		record = ports.ProgressRecord{Attempts: order.VerifyAttempts, NextCheckAt: now}
	}

	current, err := s.Counter.GetPublicCounter(ctx, order.Link)
	if err != nil {
		return s.rescheduleVerification(ctx, order, record)
	}

	delivered := current - order.StartCount
	if delivered < 0 {
		delivered = 0
	}

	if delivered >= order.Quantity {
		completed, err := s.transition(ctx, orderID, entities.StatusCompleted, func(o *entities.Order) {
			o.Delivered = delivered
		})
		if err != nil {
			return err
		}
		if err := s.Progress.Delete(ctx, orderID); err != nil {
			s.logWarn("progress cache cleanup failed", "order_cache_cleanup_failed",
				"order_id", orderID, "error", err.Error())
		}
		if err := s.publishCompletedEvent(ctx, completed); err != nil {
			return err
		}
		s.notify(ctx, "order_completed", orderID, map[string]string{
			"delivered": formatInt(delivered),
		})
		s.logInfo("order completed", "order_completed",
			"order_id", orderID, "delivered", delivered, "quantity", order.Quantity)
		return nil
	}

	return s.rescheduleVerification(ctx, order, record)
}

func (s Service) rescheduleVerification(ctx context.Context, order entities.Order, record ports.ProgressRecord) error {
	attempts := record.Attempts + 1
	if attempts >= s.verifyMaxAttempts() {
		if _, err := s.transition(ctx, order.ID, entities.StatusHolding, func(o *entities.Order) {
			o.VerifyAttempts = attempts
		}); err != nil {
			return err
		}
		s.notify(ctx, "order_verification_exhausted", order.ID, map[string]string{
			"attempts": formatInt(int64(attempts)),
		})
		s.logWarn("verification attempts exhausted", "order_verify_exhausted",
			"order_id", order.ID, "attempts", attempts)
		return nil
	}

	record.Attempts = attempts
	record.NextCheckAt = s.Clock.Now().UTC().Add(s.verifyInterval())
	if err := s.Progress.Put(ctx, order.ID, record, s.progressTTL()); err != nil {
		return err
	}
	if _, err := s.transition(ctx, order.ID, entities.StatusActive, func(o *entities.Order) {
		o.VerifyAttempts = attempts
	}); err != nil {
		return err
	}
	return nil
}

func (s Service) recordBrokerFailure(ctx context.Context, order entities.Order, reason string) error {
	failures := order.FailCount + 1
	if failures >= s.maxBrokerFailures() {
		if _, err := s.transition(ctx, order.ID, entities.StatusHolding, func(o *entities.Order) {
			o.FailCount = failures
		}); err != nil {
			return err
		}
		s.notify(ctx, "order_broker_failures", order.ID, map[string]string{"reason": reason})
		s.logWarn("order held after repeated broker failures", "order_broker_failures",
			"order_id", order.ID, "failures", failures, "reason", reason)
		return nil
	}
	if _, err := s.transition(ctx, order.ID, order.Status, func(o *entities.Order) {
		o.FailCount = failures
	}); err != nil {
		return err
	}
	s.logWarn("broker call failed", "order_broker_call_failed",
		"order_id", order.ID, "failures", failures, "reason", reason)
	return nil
}

// Resume moves a HOLDING order back into verification after manual review.
func (s Service) Resume(ctx context.Context, orderID string) (entities.Order, error) {
	order, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return entities.Order{}, err
	}
	if order.Status != entities.StatusHolding {
		return entities.Order{}, domainerrors.ErrIllegalTransition
	}
	record := ports.ProgressRecord{NextCheckAt: s.Clock.Now().UTC()}
	if existing, found, err := s.Progress.Get(ctx, orderID); err == nil && found {
		record = existing
		record.Attempts = 0
		record.NextCheckAt = s.Clock.Now().UTC()
	}
	if err := s.Progress.Put(ctx, orderID, record, s.progressTTL()); err != nil {
		return entities.Order{}, err
	}
	return s.transition(ctx, orderID, entities.StatusActive, func(o *entities.Order) {
		o.VerifyAttempts = 0
		o.FailCount = 0
	})
}

func (s Service) publishProgressEvent(ctx context.Context, order entities.Order, delivered int64, secondBaseline int64) error {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := events.New(eventID, events.TopicOrderProgress, "order-service",
		"order_id", order.ID, s.Clock.Now().UTC(), progressEventPayload{
			OrderID:         order.ID,
			Delivered:       delivered,
			RequiredTraffic: order.RequiredTraffic,
			SecondBaseline:  secondBaseline,
		})
	if err != nil {
		return err
	}
	return s.Events.Publish(ctx, events.TopicOrderProgress, envelope)
}

func (s Service) publishCompletedEvent(ctx context.Context, order entities.Order) error {
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := events.New(eventID, events.TopicOrderCompleted, "order-service",
		"order_id", order.ID, s.Clock.Now().UTC(), completedEventPayload{
			OrderID:   order.ID,
			Delivered: order.Delivered,
			Quantity:  order.Quantity,
		})
	if err != nil {
		return err
	}
	return s.Events.Publish(ctx, events.TopicOrderCompleted, envelope)
}

func formatInt(value int64) string {
	return strconv.FormatInt(value, 10)
}
