package entities

import "time"

type EntryType string

const (
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeCharge     EntryType = "charge"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeAdjustment EntryType = "adjustment"
)

type Account struct {
	UserID    string
	Balance   float64
	Version   int64
	UpdatedAt time.Time
}

// Entry is one audited balance mutation. BalanceAfter is always
// BalanceBefore + Amount; Amount is negative for charges.
type Entry struct {
	ID             string
	UserID         string
	Amount         float64
	BalanceBefore  float64
	BalanceAfter   float64
	Type           EntryType
	OrderID        string
	IdempotencyKey string
	Description    string
	CreatedAt      time.Time
}
