package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
	domainerrors "boostpanel/contexts/finance-core/ledger-service/domain/errors"
	"boostpanel/contexts/finance-core/ledger-service/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type ledgerAccountModel struct {
	UserID    string  `gorm:"column:user_id;primaryKey"`
	Balance   float64 `gorm:"column:balance"`
	Version   int64   `gorm:"column:version"`
	UpdatedAt time.Time
}

func (ledgerAccountModel) TableName() string { return "ledger_accounts" }

type ledgerEntryModel struct {
	ID             string  `gorm:"column:id;primaryKey"`
	UserID         string  `gorm:"column:user_id;index"`
	Amount         float64 `gorm:"column:amount"`
	BalanceBefore  float64 `gorm:"column:balance_before"`
	BalanceAfter   float64 `gorm:"column:balance_after"`
	EntryType      string  `gorm:"column:entry_type"`
	OrderID        string  `gorm:"column:order_id"`
	IdempotencyKey *string `gorm:"column:idempotency_key;uniqueIndex"`
	Description    string  `gorm:"column:description"`
	CreatedAt      time.Time
}

func (ledgerEntryModel) TableName() string { return "ledger_entries" }

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) CreateAccount(ctx context.Context, account entities.Account) error {
	row := ledgerAccountModel{
		UserID:    strings.TrimSpace(account.UserID),
		Balance:   account.Balance,
		Version:   account.Version,
		UpdatedAt: account.UpdatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrAccountExists
		}
		return r.logError("ledger_repo_create_account_failed", err, "user_id", row.UserID)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID string) (entities.Account, error) {
	var row ledgerAccountModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Account{}, domainerrors.ErrAccountNotFound
		}
		return entities.Account{}, r.logError("ledger_repo_get_account_failed", err,
			"user_id", strings.TrimSpace(userID),
		)
	}
	return entities.Account{
		UserID:    row.UserID,
		Balance:   row.Balance,
		Version:   row.Version,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// SaveAccountWithEntry couples the version-guarded balance update and the
// audit entry in one transaction, so no reader ever observes a mutated
// balance without its entry.
func (r *Repository) SaveAccountWithEntry(
	ctx context.Context,
	account entities.Account,
	expectedVersion int64,
	entry entities.Entry,
) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ledgerAccountModel{}).
			Where("user_id = ? AND version = ?", strings.TrimSpace(account.UserID), expectedVersion).
			Updates(map[string]any{
				"balance":    account.Balance,
				"version":    account.Version,
				"updated_at": account.UpdatedAt,
			})
		if result.Error != nil {
			return r.logError("ledger_repo_save_account_failed", result.Error,
				"user_id", account.UserID,
			)
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&ledgerAccountModel{}).
				Where("user_id = ?", strings.TrimSpace(account.UserID)).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domainerrors.ErrAccountNotFound
			}
			return domainerrors.ErrVersionConflict
		}

		row := entryModelFromEntity(entry)
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrIdempotencyConflict
			}
			return r.logError("ledger_repo_create_entry_failed", err,
				"user_id", entry.UserID,
				"entry_id", entry.ID,
			)
		}
		return nil
	})
}

func (r *Repository) GetEntryByKey(ctx context.Context, idempotencyKey string) (entities.Entry, bool, error) {
	var row ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", strings.TrimSpace(idempotencyKey)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Entry{}, false, nil
		}
		return entities.Entry{}, false, r.logError("ledger_repo_get_entry_by_key_failed", err)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListEntriesByUser(ctx context.Context, userID string, limit int, offset int) ([]entities.Entry, error) {
	var rows []ledgerEntryModel
	query := r.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.logError("ledger_repo_list_entries_failed", err,
			"user_id", strings.TrimSpace(userID),
		)
	}
	entries := make([]entities.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toEntity())
	}
	return entries, nil
}

func entryModelFromEntity(entry entities.Entry) ledgerEntryModel {
	row := ledgerEntryModel{
		ID:            entry.ID,
		UserID:        entry.UserID,
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		EntryType:     string(entry.Type),
		OrderID:       entry.OrderID,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt,
	}
	if key := strings.TrimSpace(entry.IdempotencyKey); key != "" {
		row.IdempotencyKey = &key
	}
	return row
}

func (m ledgerEntryModel) toEntity() entities.Entry {
	entry := entities.Entry{
		ID:            m.ID,
		UserID:        m.UserID,
		Amount:        m.Amount,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		Type:          entities.EntryType(m.EntryType),
		OrderID:       m.OrderID,
		Description:   m.Description,
		CreatedAt:     m.CreatedAt,
	}
	if m.IdempotencyKey != nil {
		entry.IdempotencyKey = *m.IdempotencyKey
	}
	return entry
}

func (r *Repository) logError(event string, err error, args ...any) error {
	r.logger.Error("ledger repository operation failed",
		append([]any{
			"event", event,
			"module", "finance-core/ledger-service",
			"layer", "adapter",
			"error", err.Error(),
		}, args...)...,
	)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.Repository = (*Repository)(nil)
