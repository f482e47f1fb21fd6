package notify

import (
	"context"
	"log/slog"

	"boostpanel/contexts/fulfillment/order-service/ports"
)

// LogNotifier is the default operator-alert sink: structured log lines on a
// dedicated event key. It never fails the caller.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, kind string, orderID string, details map[string]string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{
		"event", "order_operator_alert",
		"module", "fulfillment/order-service",
		"layer", "adapter",
		"kind", kind,
		"order_id", orderID,
	}
	for key, value := range details {
		args = append(args, "detail_"+key, value)
	}
	logger.Info("operator alert", args...)
}

var _ ports.Notifier = LogNotifier{}
