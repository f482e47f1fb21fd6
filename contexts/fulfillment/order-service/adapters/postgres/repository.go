package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	"boostpanel/contexts/fulfillment/order-service/ports"

	"gorm.io/gorm"
)

type orderModel struct {
	ID               string  `gorm:"column:id;primaryKey"`
	UserID           string  `gorm:"column:user_id;index"`
	ServiceID        string  `gorm:"column:service_id"`
	Link             string  `gorm:"column:link"`
	Quantity         int64   `gorm:"column:quantity"`
	Charge           float64 `gorm:"column:charge"`
	StartCount       int64   `gorm:"column:start_count"`
	SecondStartCount *int64  `gorm:"column:second_start_count"`
	Delivered        int64   `gorm:"column:delivered"`
	Status           string  `gorm:"column:status;index"`
	Coefficient      float64 `gorm:"column:coefficient"`
	ClipEligible     bool    `gorm:"column:clip_eligible"`
	RequiredTraffic  int64   `gorm:"column:required_traffic"`
	OfferID          string  `gorm:"column:offer_id"`
	CampaignIDs      string  `gorm:"column:campaign_ids"`
	VerifyAttempts   int     `gorm:"column:verify_attempts"`
	FailCount        int     `gorm:"column:fail_count"`
	Version          int64   `gorm:"column:version"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (orderModel) TableName() string { return "orders" }

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

func (r *Repository) CreateOrder(ctx context.Context, order entities.Order) error {
	row := modelFromEntity(order)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return r.logError("order_repo_create_failed", err, "order_id", order.ID)
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, orderID string) (entities.Order, error) {
	var row orderModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(orderID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Order{}, domainerrors.ErrOrderNotFound
		}
		return entities.Order{}, r.logError("order_repo_get_failed", err,
			"order_id", strings.TrimSpace(orderID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListOrdersByStatus(ctx context.Context, status entities.OrderStatus, limit int) ([]entities.Order, error) {
	var rows []orderModel
	query := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.logError("order_repo_list_by_status_failed", err, "status", string(status))
	}
	return toEntities(rows), nil
}

func (r *Repository) ListOrdersByUser(ctx context.Context, userID string, limit int, offset int) ([]entities.Order, error) {
	var rows []orderModel
	query := r.db.WithContext(ctx).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("created_at DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.logError("order_repo_list_by_user_failed", err,
			"user_id", strings.TrimSpace(userID),
		)
	}
	return toEntities(rows), nil
}

func (r *Repository) SaveOrder(ctx context.Context, order entities.Order, expectedVersion int64) error {
	row := modelFromEntity(order)
	result := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("id = ? AND version = ?", order.ID, expectedVersion).
		Updates(map[string]any{
			"start_count":        row.StartCount,
			"second_start_count": row.SecondStartCount,
			"delivered":          row.Delivered,
			"status":             row.Status,
			"coefficient":        row.Coefficient,
			"required_traffic":   row.RequiredTraffic,
			"offer_id":           row.OfferID,
			"campaign_ids":       row.CampaignIDs,
			"verify_attempts":    row.VerifyAttempts,
			"fail_count":         row.FailCount,
			"version":            row.Version,
			"updated_at":         row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("order_repo_save_failed", result.Error, "order_id", order.ID)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.WithContext(ctx).
			Model(&orderModel{}).
			Where("id = ?", order.ID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domainerrors.ErrOrderNotFound
		}
		return domainerrors.ErrVersionConflict
	}
	return nil
}

func modelFromEntity(order entities.Order) orderModel {
	row := orderModel{
		ID:               order.ID,
		UserID:           order.UserID,
		ServiceID:        order.ServiceID,
		Link:             order.Link,
		Quantity:         order.Quantity,
		Charge:           order.Charge,
		StartCount:       order.StartCount,
		SecondStartCount: order.SecondStartCount,
		Delivered:        order.Delivered,
		Status:           string(order.Status),
		Coefficient:      order.Coefficient,
		ClipEligible:     order.ClipEligible,
		RequiredTraffic:  order.RequiredTraffic,
		OfferID:          order.OfferID,
		CampaignIDs:      strings.Join(order.CampaignIDs, ","),
		VerifyAttempts:   order.VerifyAttempts,
		FailCount:        order.FailCount,
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	return row
}

func (m orderModel) toEntity() entities.Order {
	order := entities.Order{
		ID:               m.ID,
		UserID:           m.UserID,
		ServiceID:        m.ServiceID,
		Link:             m.Link,
		Quantity:         m.Quantity,
		Charge:           m.Charge,
		StartCount:       m.StartCount,
		SecondStartCount: m.SecondStartCount,
		Delivered:        m.Delivered,
		Status:           entities.OrderStatus(m.Status),
		Coefficient:      m.Coefficient,
		ClipEligible:     m.ClipEligible,
		RequiredTraffic:  m.RequiredTraffic,
		OfferID:          m.OfferID,
		VerifyAttempts:   m.VerifyAttempts,
		FailCount:        m.FailCount,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.CampaignIDs != "" {
		order.CampaignIDs = strings.Split(m.CampaignIDs, ",")
	}
	return order
}

func toEntities(rows []orderModel) []entities.Order {
	orders := make([]entities.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, row.toEntity())
	}
	return orders
}

func (r *Repository) logError(event string, err error, args ...any) error {
	r.logger.Error("order repository operation failed",
		append([]any{
			"event", event,
			"module", "fulfillment/order-service",
			"layer", "adapter",
			"error", err.Error(),
		}, args...)...,
	)
	return err
}

var _ ports.Repository = (*Repository)(nil)
