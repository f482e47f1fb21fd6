package statemachine

import (
	"fmt"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
)

// transitions is the only authority on which status edges exist. CANCELLED
// and PARTIAL have no outgoing edges; COMPLETED can only re-open into
// REFILL.
var transitions = map[entities.OrderStatus][]entities.OrderStatus{
	entities.StatusPending:    {entities.StatusInProgress, entities.StatusCancelled},
	entities.StatusInProgress: {entities.StatusProcessing, entities.StatusActive, entities.StatusCancelled, entities.StatusHolding},
	entities.StatusProcessing: {entities.StatusActive, entities.StatusCancelled, entities.StatusHolding},
	entities.StatusActive:     {entities.StatusCompleted, entities.StatusPartial, entities.StatusPaused, entities.StatusHolding},
	entities.StatusPaused:     {entities.StatusActive, entities.StatusCancelled},
	entities.StatusHolding:    {entities.StatusActive, entities.StatusCancelled, entities.StatusProcessing},
	entities.StatusCompleted:  {entities.StatusRefill},
	entities.StatusRefill:     {entities.StatusInProgress},
	entities.StatusCancelled:  {},
	entities.StatusPartial:    {},
}

func CanTransition(from entities.OrderStatus, to entities.OrderStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Validate returns ErrIllegalTransition with both edges named when the move
// is not in the table. A same-status move validates successfully; callers
// treat it as a no-op.
func Validate(from entities.OrderStatus, to entities.OrderStatus) error {
	if !Known(from) || !Known(to) {
		return fmt.Errorf("%w: %s -> %s", domainerrors.ErrIllegalTransition, from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", domainerrors.ErrIllegalTransition, from, to)
	}
	return nil
}

func Known(status entities.OrderStatus) bool {
	_, exists := transitions[status]
	return exists
}
