package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAssignmentNotFound  = errors.New("traffic assignment not found")
	ErrNoActiveEndpoints   = errors.New("no active campaign endpoints configured")
	ErrInvalidCoefficient  = errors.New("coefficient out of range")
	ErrInvalidQuantity     = errors.New("quantity must be positive")
	ErrBrokerUnavailable   = errors.New("traffic broker unavailable")
	ErrOfferNotFound       = errors.New("offer not found on broker")
	ErrAssignmentInactive  = errors.New("traffic assignment already stopped")
	ErrEndpointNotFound    = errors.New("campaign endpoint not found")
	ErrDuplicateAssignment = errors.New("order already has an active assignment")
)

// PartialUnbindError reports which endpoints could not be detached so the
// caller can retry only the failed portion.
type PartialUnbindError struct {
	OfferID  string
	Failed   map[string]error
	Detached []string
}

func (e *PartialUnbindError) Error() string {
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	return fmt.Sprintf("offer %s: unbind failed for endpoints %s", e.OfferID, strings.Join(ids, ", "))
}

func (e *PartialUnbindError) Unwrap() error { return ErrBrokerUnavailable }
