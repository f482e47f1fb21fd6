package errors

import "errors"

var (
	ErrAccountNotFound     = errors.New("ledger account not found")
	ErrAccountExists       = errors.New("ledger account already exists")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNegativeBalance     = errors.New("mutation would drive balance negative")
	ErrVersionConflict     = errors.New("ledger account version conflict")
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different request")
)
