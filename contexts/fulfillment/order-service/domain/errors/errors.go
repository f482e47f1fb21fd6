package errors

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidInput       = errors.New("invalid order input")
	ErrIllegalTransition  = errors.New("illegal status transition")
	ErrVersionConflict    = errors.New("order version conflict")
	ErrInsufficientFunds  = errors.New("insufficient balance for order")
	ErrTargetUnreachable  = errors.New("target resource unreachable")
	ErrOrderNotRefillable = errors.New("order cannot be refilled")
	ErrOrderTerminal      = errors.New("order already in a terminal status")
)
