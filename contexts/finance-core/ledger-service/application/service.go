package application

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	domainerrors "boostpanel/contexts/finance-core/ledger-service/domain/errors"
	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
	"boostpanel/contexts/finance-core/ledger-service/ports"
)

const (
	defaultMaxRetries = 5
	retryBaseDelay    = 50 * time.Millisecond
)

type Service struct {
	Repo       ports.Repository
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	MaxRetries int
	Logger     *slog.Logger
}

// Reserve atomically checks sufficient balance and debits it. Returns false
// with no mutation when the balance does not cover the amount, so order
// creation can be rejected without partial state.
func (s Service) Reserve(ctx context.Context, userID string, amount float64, orderID string, idempotencyKey string) (bool, error) {
	if amount <= 0 {
		return false, domainerrors.ErrInvalidAmount
	}
	replayed, found, err := s.replay(ctx, idempotencyKey, entities.EntryTypeCharge)
	if err != nil {
		return false, err
	}
	if found {
		s.logInfo("ledger reserve replayed", "ledger_reserve_replayed",
			"user_id", userID, "order_id", orderID, "entry_id", replayed.ID)
		return true, nil
	}

	applied, err := s.apply(ctx, userID, -round4(amount), entities.Entry{
		Type:           entities.EntryTypeCharge,
		OrderID:        orderID,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		Description:    "charge for order " + orderID,
	}, false)
	if errors.Is(err, domainerrors.ErrInsufficientBalance) {
		s.logWarn("ledger reserve insufficient balance", "ledger_reserve_insufficient",
			"user_id", userID, "order_id", orderID, "amount", amount)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logInfo("ledger balance reserved", "ledger_reserved",
		"user_id", userID, "order_id", orderID, "amount", amount, "entry_id", applied.ID)
	return true, nil
}

// Refund credits back an amount for undelivered quantity.
func (s Service) Refund(ctx context.Context, userID string, amount float64, orderID string, reason string, idempotencyKey string) error {
	if amount <= 0 {
		return domainerrors.ErrInvalidAmount
	}
	replayed, found, err := s.replay(ctx, idempotencyKey, entities.EntryTypeRefund)
	if err != nil {
		return err
	}
	if found {
		s.logInfo("ledger refund replayed", "ledger_refund_replayed",
			"user_id", userID, "order_id", orderID, "entry_id", replayed.ID)
		return nil
	}

	entry, err := s.apply(ctx, userID, round4(amount), entities.Entry{
		Type:           entities.EntryTypeRefund,
		OrderID:        orderID,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		Description:    strings.TrimSpace(reason),
	}, false)
	if err != nil {
		return err
	}
	s.logInfo("ledger balance refunded", "ledger_refunded",
		"user_id", userID, "order_id", orderID, "amount", amount, "entry_id", entry.ID)
	return nil
}

// Deposit credits funds. The account row is provisioned with a zero balance
// on a user's first deposit, so no out-of-band seeding step exists.
func (s Service) Deposit(ctx context.Context, userID string, amount float64, idempotencyKey string, description string) (float64, error) {
	if amount <= 0 {
		return 0, domainerrors.ErrInvalidAmount
	}
	replayed, found, err := s.replay(ctx, idempotencyKey, entities.EntryTypeDeposit)
	if err != nil {
		return 0, err
	}
	if found {
		return replayed.BalanceAfter, nil
	}

	entry, err := s.apply(ctx, userID, round4(amount), entities.Entry{
		Type:           entities.EntryTypeDeposit,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		Description:    strings.TrimSpace(description),
	}, false)
	if err != nil {
		return 0, err
	}
	s.logInfo("ledger balance deposited", "ledger_deposited",
		"user_id", userID, "amount", amount, "entry_id", entry.ID)
	return entry.BalanceAfter, nil
}

// Adjust is the administrative override path. allowNegative permits the
// balance to go below zero; every call is audited like any other mutation.
func (s Service) Adjust(ctx context.Context, userID string, amount float64, reason string, idempotencyKey string, allowNegative bool) error {
	if amount == 0 {
		return domainerrors.ErrInvalidAmount
	}
	_, found, err := s.replay(ctx, idempotencyKey, entities.EntryTypeAdjustment)
	if err != nil {
		return err
	}
	if found {
		return nil
	}

	entry, err := s.apply(ctx, userID, round4(amount), entities.Entry{
		Type:           entities.EntryTypeAdjustment,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
		Description:    strings.TrimSpace(reason),
	}, allowNegative)
	if err != nil {
		return err
	}
	s.logWarn("ledger balance adjusted", "ledger_adjusted",
		"user_id", userID, "amount", amount, "entry_id", entry.ID, "allow_negative", allowNegative)
	return nil
}

func (s Service) Balance(ctx context.Context, userID string) (float64, error) {
	account, err := s.Repo.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

func (s Service) Entries(ctx context.Context, userID string, limit int, offset int) ([]entities.Entry, error) {
	return s.Repo.ListEntriesByUser(ctx, userID, limit, offset)
}

// apply runs the read-mutate-save sequence under optimistic versioning with
// bounded exponential backoff plus jitter.
func (s Service) apply(ctx context.Context, userID string, amount float64, template entities.Entry, allowNegative bool) (entities.Entry, error) {
	retries := s.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			if err := sleepWithJitter(ctx, attempt); err != nil {
				return entities.Entry{}, err
			}
		}

		account, err := s.Repo.GetAccount(ctx, userID)
		if errors.Is(err, domainerrors.ErrAccountNotFound) && provisionsAccount(template.Type) {
			account, err = s.provisionAccount(ctx, userID)
		}
		if err != nil {
			return entities.Entry{}, err
		}

		newBalance := round4(account.Balance + amount)
		if newBalance < 0 {
			if amount < 0 && !allowNegative {
				if template.Type == entities.EntryTypeCharge {
					return entities.Entry{}, domainerrors.ErrInsufficientBalance
				}
				return entities.Entry{}, domainerrors.ErrNegativeBalance
			}
			if !allowNegative {
				return entities.Entry{}, domainerrors.ErrNegativeBalance
			}
		}

		entryID, err := s.IDGen.NewID(ctx)
		if err != nil {
			return entities.Entry{}, err
		}
		now := s.now()

		entry := template
		entry.ID = entryID
		entry.UserID = userID
		entry.Amount = amount
		entry.BalanceBefore = account.Balance
		entry.BalanceAfter = newBalance
		entry.CreatedAt = now

		updated := account
		updated.Balance = newBalance
		updated.Version = account.Version + 1
		updated.UpdatedAt = now

		err = s.Repo.SaveAccountWithEntry(ctx, updated, account.Version, entry)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, domainerrors.ErrVersionConflict) {
			lastErr = err
			continue
		}
		return entities.Entry{}, err
	}
	s.logWarn("ledger mutation retries exhausted", "ledger_retries_exhausted",
		"user_id", userID, "amount", amount, "retries", retries)
	return entities.Entry{}, lastErr
}

// provisionAccount creates the zero-balance row for a first-time user.
// Losing the create race to a concurrent first deposit is fine; the row is
// re-read either way and the version guard covers the rest.
func (s Service) provisionAccount(ctx context.Context, userID string) (entities.Account, error) {
	created := entities.Account{UserID: userID, UpdatedAt: s.now()}
	err := s.Repo.CreateAccount(ctx, created)
	if err != nil && !errors.Is(err, domainerrors.ErrAccountExists) {
		return entities.Account{}, err
	}
	if err == nil {
		s.logInfo("ledger account provisioned", "ledger_account_provisioned", "user_id", userID)
	}
	return s.Repo.GetAccount(ctx, userID)
}

// provisionsAccount reports whether an entry type may create the account it
// mutates. Charges and refunds always reference an existing account.
func provisionsAccount(entryType entities.EntryType) bool {
	return entryType == entities.EntryTypeDeposit || entryType == entities.EntryTypeAdjustment
}

func (s Service) replay(ctx context.Context, idempotencyKey string, wantType entities.EntryType) (entities.Entry, bool, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return entities.Entry{}, false, nil
	}
	entry, found, err := s.Repo.GetEntryByKey(ctx, key)
	if err != nil || !found {
		return entities.Entry{}, false, err
	}
	if entry.Type != wantType {
		return entities.Entry{}, false, domainerrors.ErrIdempotencyConflict
	}
	return entry, true, nil
}

func (s Service) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s Service) logInfo(msg string, event string, args ...any) {
	resolveLogger(s.Logger).Info(msg, append([]any{
		"event", event,
		"module", "finance-core/ledger-service",
		"layer", "application",
	}, args...)...)
}

func (s Service) logWarn(msg string, event string, args ...any) {
	resolveLogger(s.Logger).Warn(msg, append([]any{
		"event", event,
		"module", "finance-core/ledger-service",
		"layer", "application",
	}, args...)...)
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func round4(value float64) float64 {
	return math.Round(value*10000) / 10000
}

func sleepWithJitter(ctx context.Context, attempt int) error {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	delay += time.Duration(rand.Int63n(int64(retryBaseDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
