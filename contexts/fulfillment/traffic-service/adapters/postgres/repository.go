package postgresadapter

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
	"boostpanel/contexts/fulfillment/traffic-service/ports"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type campaignEndpointModel struct {
	ID           string `gorm:"column:id;primaryKey"`
	Name         string `gorm:"column:name"`
	Weight       int    `gorm:"column:weight"`
	Priority     int    `gorm:"column:priority"`
	Active       bool   `gorm:"column:active"`
	ActiveOffers int    `gorm:"column:active_offers"`
}

func (campaignEndpointModel) TableName() string { return "campaign_endpoints" }

type trafficAssignmentModel struct {
	ID               string `gorm:"column:id;primaryKey"`
	OrderID          string `gorm:"column:order_id;uniqueIndex"`
	OfferID          string `gorm:"column:offer_id"`
	TargetURL        string `gorm:"column:target_url"`
	EndpointIDs      string `gorm:"column:endpoint_ids"`
	Shares           string `gorm:"column:shares"`
	RequiredTraffic  int64  `gorm:"column:required_traffic"`
	DeliveredTraffic int64  `gorm:"column:delivered_traffic"`
	Active           bool   `gorm:"column:active"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (trafficAssignmentModel) TableName() string { return "traffic_assignments" }

type conversionCoefficientModel struct {
	ServiceID   string  `gorm:"column:service_id;primaryKey"`
	WithClip    float64 `gorm:"column:with_clip"`
	WithoutClip float64 `gorm:"column:without_clip"`
	UpdatedAt   time.Time
}

func (conversionCoefficientModel) TableName() string { return "conversion_coefficients" }

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

func (r *Repository) ListActiveEndpoints(ctx context.Context) ([]entities.CampaignEndpoint, error) {
	var rows []campaignEndpointModel
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("priority DESC, id ASC").
		Find(&rows).
		Error
	if err != nil {
		return nil, r.logError("traffic_repo_list_endpoints_failed", err)
	}
	endpoints := make([]entities.CampaignEndpoint, 0, len(rows))
	for _, row := range rows {
		endpoints = append(endpoints, entities.CampaignEndpoint{
			ID:           row.ID,
			Name:         row.Name,
			Weight:       row.Weight,
			Priority:     row.Priority,
			Active:       row.Active,
			ActiveOffers: row.ActiveOffers,
		})
	}
	return endpoints, nil
}

func (r *Repository) AdjustEndpointLoad(ctx context.Context, endpointID string, delta int) error {
	result := r.db.WithContext(ctx).
		Model(&campaignEndpointModel{}).
		Where("id = ?", endpointID).
		UpdateColumn("active_offers", gorm.Expr("GREATEST(active_offers + ?, 0)", delta))
	if result.Error != nil {
		return r.logError("traffic_repo_adjust_load_failed", result.Error,
			"endpoint_id", endpointID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEndpointNotFound
	}
	return nil
}

func (r *Repository) CreateAssignment(ctx context.Context, assignment entities.Assignment) error {
	row := assignmentModelFromEntity(assignment)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return domainerrors.ErrDuplicateAssignment
		}
		return r.logError("traffic_repo_create_assignment_failed", err,
			"order_id", assignment.OrderID,
		)
	}
	return nil
}

func (r *Repository) GetAssignmentByOrder(ctx context.Context, orderID string) (entities.Assignment, error) {
	var row trafficAssignmentModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", strings.TrimSpace(orderID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Assignment{}, domainerrors.ErrAssignmentNotFound
		}
		return entities.Assignment{}, r.logError("traffic_repo_get_assignment_failed", err,
			"order_id", strings.TrimSpace(orderID),
		)
	}
	return row.toEntity(), nil
}

func (r *Repository) UpdateAssignment(ctx context.Context, assignment entities.Assignment) error {
	row := assignmentModelFromEntity(assignment)
	result := r.db.WithContext(ctx).
		Model(&trafficAssignmentModel{}).
		Where("id = ?", assignment.ID).
		Updates(map[string]any{
			"endpoint_ids":      row.EndpointIDs,
			"delivered_traffic": row.DeliveredTraffic,
			"active":            row.Active,
			"updated_at":        row.UpdatedAt,
		})
	if result.Error != nil {
		return r.logError("traffic_repo_update_assignment_failed", result.Error,
			"assignment_id", assignment.ID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrAssignmentNotFound
	}
	return nil
}

func (r *Repository) GetCoefficient(ctx context.Context, serviceID string) (entities.Coefficient, bool, error) {
	var row conversionCoefficientModel
	err := r.db.WithContext(ctx).
		Where("service_id = ?", strings.TrimSpace(serviceID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Coefficient{}, false, nil
		}
		return entities.Coefficient{}, false, r.logError("traffic_repo_get_coefficient_failed", err,
			"service_id", strings.TrimSpace(serviceID),
		)
	}
	return entities.Coefficient{
		ServiceID:   row.ServiceID,
		WithClip:    row.WithClip,
		WithoutClip: row.WithoutClip,
		UpdatedAt:   row.UpdatedAt,
	}, true, nil
}

func (r *Repository) SetCoefficient(ctx context.Context, coefficient entities.Coefficient) error {
	row := conversionCoefficientModel{
		ServiceID:   coefficient.ServiceID,
		WithClip:    coefficient.WithClip,
		WithoutClip: coefficient.WithoutClip,
		UpdatedAt:   coefficient.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Save(&row).Error
	if err != nil {
		return r.logError("traffic_repo_set_coefficient_failed", err,
			"service_id", coefficient.ServiceID,
		)
	}
	return nil
}

func assignmentModelFromEntity(assignment entities.Assignment) trafficAssignmentModel {
	return trafficAssignmentModel{
		ID:               assignment.ID,
		OrderID:          assignment.OrderID,
		OfferID:          assignment.OfferID,
		TargetURL:        assignment.TargetURL,
		EndpointIDs:      strings.Join(assignment.EndpointIDs, ","),
		Shares:           encodeShares(assignment.Shares),
		RequiredTraffic:  assignment.RequiredTraffic,
		DeliveredTraffic: assignment.DeliveredTraffic,
		Active:           assignment.Active,
		CreatedAt:        assignment.CreatedAt,
		UpdatedAt:        assignment.UpdatedAt,
	}
}

func (m trafficAssignmentModel) toEntity() entities.Assignment {
	assignment := entities.Assignment{
		ID:               m.ID,
		OrderID:          m.OrderID,
		OfferID:          m.OfferID,
		TargetURL:        m.TargetURL,
		Shares:           decodeShares(m.Shares),
		RequiredTraffic:  m.RequiredTraffic,
		DeliveredTraffic: m.DeliveredTraffic,
		Active:           m.Active,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
	if m.EndpointIDs != "" {
		assignment.EndpointIDs = strings.Split(m.EndpointIDs, ",")
	}
	return assignment
}

// encodeShares flattens the planned split to "endpoint=traffic" pairs, the
// same comma-joined shape EndpointIDs uses.
func encodeShares(shares []entities.EndpointShare) string {
	pairs := make([]string, 0, len(shares))
	for _, share := range shares {
		pairs = append(pairs, share.EndpointID+"="+strconv.FormatInt(share.Traffic, 10))
	}
	return strings.Join(pairs, ",")
}

func decodeShares(encoded string) []entities.EndpointShare {
	if encoded == "" {
		return nil
	}
	pairs := strings.Split(encoded, ",")
	shares := make([]entities.EndpointShare, 0, len(pairs))
	for _, pair := range pairs {
		endpointID, raw, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		traffic, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		shares = append(shares, entities.EndpointShare{EndpointID: endpointID, Traffic: traffic})
	}
	return shares
}

func (r *Repository) logError(event string, err error, args ...any) error {
	r.logger.Error("traffic repository operation failed",
		append([]any{
			"event", event,
			"module", "fulfillment/traffic-service",
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
var _ ports.CoefficientSource = (*Repository)(nil)
