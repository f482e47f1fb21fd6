package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"boostpanel/contexts/fulfillment/order-service/application"
	"boostpanel/internal/platform/messaging"
	"boostpanel/internal/shared/events"
)

const defaultCreatedConsumerGroup = "order-service-created-cg"

type createdPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Refill  bool   `json:"refill"`
}

// CreatedConsumer reacts to order.created by pulling the order into traffic.
// Replays are harmless: StartFulfillment skips orders already past PENDING.
type CreatedConsumer struct {
	Bus           messaging.Bus
	Service       application.Service
	ConsumerGroup string

	// Dedup, when set, skips envelopes this consumer group already handled.
	Dedup    messaging.DedupStore
	DedupTTL time.Duration

	Logger *slog.Logger
}

func (c CreatedConsumer) Start(ctx context.Context) error {
	logger := application.ResolveLogger(c.Logger)
	group := c.ConsumerGroup
	if group == "" {
		group = defaultCreatedConsumerGroup
	}
	handler := c.handle
	if c.Dedup != nil {
		handler = messaging.Deduped(c.Dedup, c.DedupTTL, group, c.handle, logger)
	}
	if err := c.Bus.Subscribe(ctx, events.TopicOrderCreated, group, handler); err != nil {
		logger.Error("order created consumer subscribe failed",
			"event", "order_created_consumer_subscribe_failed",
			"module", "fulfillment/order-service",
			"layer", "worker",
			"topic", events.TopicOrderCreated,
			"consumer_group", group,
			"error", err.Error(),
		)
		return err
	}
	logger.Info("order created consumer subscribed",
		"event", "order_created_consumer_subscribed",
		"module", "fulfillment/order-service",
		"layer", "worker",
		"topic", events.TopicOrderCreated,
		"consumer_group", group,
	)
	return nil
}

func (c CreatedConsumer) handle(ctx context.Context, event events.Envelope) error {
	logger := application.ResolveLogger(c.Logger)
	var payload createdPayload
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		logger.Error("order created event decode failed",
			"event", "order_created_decode_failed",
			"module", "fulfillment/order-service",
			"layer", "worker",
			"event_id", event.EventID,
			"error", err.Error(),
		)
		return err
	}
	if payload.OrderID == "" {
		logger.Warn("order created payload invalid",
			"event", "order_created_payload_invalid",
			"module", "fulfillment/order-service",
			"layer", "worker",
			"event_id", event.EventID,
		)
		return nil
	}
	return c.Service.StartFulfillment(ctx, payload.OrderID)
}
