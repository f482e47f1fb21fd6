package workers

import (
	"context"
	"log/slog"

	"boostpanel/contexts/fulfillment/order-service/application"
	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	"boostpanel/contexts/fulfillment/order-service/ports"
)

// ProgressMonitor polls running orders and stops traffic once delivery
// crosses the early-pull threshold. It also sweeps PROCESSING orders whose
// verification handoff was interrupted so no order is stranded between the
// stop and ACTIVE. One failing order never blocks the rest of the batch.
type ProgressMonitor struct {
	Repo      ports.Repository
	Service   application.Service
	BatchSize int
	Logger    *slog.Logger
}

func (m ProgressMonitor) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(m.Logger)
	limit := m.BatchSize
	if limit <= 0 {
		limit = 100
	}

	var orders []entities.Order
	for _, status := range []entities.OrderStatus{entities.StatusInProgress, entities.StatusProcessing} {
		batch, err := m.Repo.ListOrdersByStatus(ctx, status, limit)
		if err != nil {
			logger.Error("progress monitor listing failed",
				"event", "progress_monitor_list_failed",
				"module", "fulfillment/order-service",
				"layer", "worker",
				"status", string(status),
				"error", err.Error(),
			)
			return err
		}
		orders = append(orders, batch...)
	}

	var failures int
	for _, order := range orders {
		if err := m.Service.CheckProgress(ctx, order.ID); err != nil {
			failures++
			logger.Error("progress check failed",
				"event", "progress_monitor_check_failed",
				"module", "fulfillment/order-service",
				"layer", "worker",
				"order_id", order.ID,
				"error", err.Error(),
			)
		}
	}

	logger.Debug("progress monitor cycle finished",
		"event", "progress_monitor_cycle_finished",
		"module", "fulfillment/order-service",
		"layer", "worker",
		"orders", len(orders),
		"failures", failures,
	)
	return nil
}
