package workers

import (
	"context"
	"log/slog"

	"boostpanel/contexts/fulfillment/order-service/application"
	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	"boostpanel/contexts/fulfillment/order-service/ports"
)

// DeliveryVerifier polls orders awaiting confirmation and compares the
// target counter against the first baseline on each pass.
type DeliveryVerifier struct {
	Repo      ports.Repository
	Service   application.Service
	BatchSize int
	Logger    *slog.Logger
}

func (v DeliveryVerifier) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(v.Logger)
	limit := v.BatchSize
	if limit <= 0 {
		limit = 100
	}

	orders, err := v.Repo.ListOrdersByStatus(ctx, entities.StatusActive, limit)
	if err != nil {
		logger.Error("delivery verifier listing failed",
			"event", "delivery_verifier_list_failed",
			"module", "fulfillment/order-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}

	var failures int
	for _, order := range orders {
		if err := v.Service.VerifyDelivery(ctx, order.ID); err != nil {
			failures++
			logger.Error("delivery verification failed",
				"event", "delivery_verifier_check_failed",
				"module", "fulfillment/order-service",
				"layer", "worker",
				"order_id", order.ID,
				"error", err.Error(),
			)
		}
	}

	logger.Debug("delivery verifier cycle finished",
		"event", "delivery_verifier_cycle_finished",
		"module", "fulfillment/order-service",
		"layer", "worker",
		"orders", len(orders),
		"failures", failures,
	)
	return nil
}
