package statemachine

import (
	"errors"
	"testing"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
)

func TestAllowedEdges(t *testing.T) {
	cases := []struct {
		from entities.OrderStatus
		to   entities.OrderStatus
	}{
		{entities.StatusPending, entities.StatusInProgress},
		{entities.StatusPending, entities.StatusCancelled},
		{entities.StatusInProgress, entities.StatusProcessing},
		{entities.StatusInProgress, entities.StatusActive},
		{entities.StatusInProgress, entities.StatusHolding},
		{entities.StatusProcessing, entities.StatusActive},
		{entities.StatusProcessing, entities.StatusCancelled},
		{entities.StatusActive, entities.StatusCompleted},
		{entities.StatusActive, entities.StatusPartial},
		{entities.StatusActive, entities.StatusPaused},
		{entities.StatusActive, entities.StatusHolding},
		{entities.StatusPaused, entities.StatusActive},
		{entities.StatusPaused, entities.StatusCancelled},
		{entities.StatusHolding, entities.StatusActive},
		{entities.StatusHolding, entities.StatusProcessing},
		{entities.StatusCompleted, entities.StatusRefill},
		{entities.StatusRefill, entities.StatusInProgress},
	}
	for _, tc := range cases {
		if err := Validate(tc.from, tc.to); err != nil {
			t.Fatalf("expected %s -> %s to be allowed: %v", tc.from, tc.to, err)
		}
	}
}

func TestForbiddenEdges(t *testing.T) {
	cases := []struct {
		from entities.OrderStatus
		to   entities.OrderStatus
	}{
		{entities.StatusPending, entities.StatusCompleted},
		{entities.StatusPending, entities.StatusActive},
		{entities.StatusActive, entities.StatusCancelled},
		{entities.StatusCancelled, entities.StatusActive},
		{entities.StatusCancelled, entities.StatusPending},
		{entities.StatusPartial, entities.StatusActive},
		{entities.StatusCompleted, entities.StatusActive},
		{entities.StatusProcessing, entities.StatusCompleted},
	}
	for _, tc := range cases {
		err := Validate(tc.from, tc.to)
		if !errors.Is(err, domainerrors.ErrIllegalTransition) {
			t.Fatalf("expected %s -> %s to be rejected, got %v", tc.from, tc.to, err)
		}
	}
}

func TestSameStatusIsNoOpSuccess(t *testing.T) {
	for status := range map[entities.OrderStatus]struct{}{
		entities.StatusPending:   {},
		entities.StatusActive:    {},
		entities.StatusCancelled: {},
	} {
		if err := Validate(status, status); err != nil {
			t.Fatalf("same-status %s should validate: %v", status, err)
		}
	}
}

func TestUnknownStatusRejected(t *testing.T) {
	err := Validate(entities.OrderStatus("BOGUS"), entities.StatusActive)
	if !errors.Is(err, domainerrors.ErrIllegalTransition) {
		t.Fatalf("expected unknown status rejection, got %v", err)
	}
}
