package application

import (
	"context"
	"log/slog"
	"math"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
	"boostpanel/contexts/fulfillment/traffic-service/ports"
)

// Resolver turns an ordered quantity into the traffic the broker has to
// deliver. Coefficients are looked up per service kind; the clip rate
// applies only when the target supports clip delivery.
type Resolver struct {
	Coefficients ports.CoefficientSource
	Logger       *slog.Logger
}

func (r Resolver) RequiredTraffic(ctx context.Context, serviceID string, quantity int64, clipEligible bool) (int64, float64, error) {
	if quantity <= 0 {
		return 0, 0, domainerrors.ErrInvalidQuantity
	}

	coefficient := entities.Coefficient{
		ServiceID:   serviceID,
		WithClip:    entities.DefaultWithClip,
		WithoutClip: entities.DefaultWithoutClip,
	}
	if r.Coefficients != nil {
		stored, found, err := r.Coefficients.GetCoefficient(ctx, serviceID)
		if err != nil {
			return 0, 0, err
		}
		if found {
			coefficient = stored
		}
	}

	rate := coefficient.WithoutClip
	if clipEligible {
		rate = coefficient.WithClip
	}
	if rate <= 0 || rate > entities.CoefficientMax {
		return 0, 0, domainerrors.ErrInvalidCoefficient
	}

	required := int64(math.Ceil(float64(quantity) * rate))
	resolveLogger(r.Logger).Info("required traffic resolved",
		"event", "traffic_required_resolved",
		"module", "fulfillment/traffic-service",
		"layer", "application",
		"service_id", serviceID,
		"quantity", quantity,
		"clip_eligible", clipEligible,
		"coefficient", rate,
		"required_traffic", required,
	)
	return required, rate, nil
}

// UpdateCoefficient persists a new conversion rate after bounds validation.
func (r Resolver) UpdateCoefficient(ctx context.Context, coefficient entities.Coefficient) error {
	if coefficient.WithClip <= 0 || coefficient.WithClip > entities.CoefficientMax {
		return domainerrors.ErrInvalidCoefficient
	}
	if coefficient.WithoutClip <= 0 || coefficient.WithoutClip > entities.CoefficientMax {
		return domainerrors.ErrInvalidCoefficient
	}
	return r.Coefficients.SetCoefficient(ctx, coefficient)
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
