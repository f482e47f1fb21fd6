package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"

	"github.com/google/uuid"
)

type Store struct {
	mu     sync.RWMutex
	orders map[string]entities.Order
}

func NewStore() *Store {
	return &Store{orders: make(map[string]entities.Order)}
}

func (s *Store) CreateOrder(_ context.Context, order entities.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[strings.TrimSpace(orderID)]
	if !exists {
		return entities.Order{}, domainerrors.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrdersByStatus(_ context.Context, status entities.OrderStatus, limit int) ([]entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]entities.Order, 0)
	for _, order := range s.orders {
		if order.Status == status {
			matched = append(matched, cloneOrder(order))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string, limit int, offset int) ([]entities.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]entities.Order, 0)
	for _, order := range s.orders {
		if order.UserID == strings.TrimSpace(userID) {
			matched = append(matched, cloneOrder(order))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return []entities.Order{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) SaveOrder(_ context.Context, order entities.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orders[order.ID]
	if !exists {
		return domainerrors.ErrOrderNotFound
	}
	if current.Version != expectedVersion {
		return domainerrors.ErrVersionConflict
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func cloneOrder(order entities.Order) entities.Order {
	cloned := order
	if order.SecondStartCount != nil {
		second := *order.SecondStartCount
		cloned.SecondStartCount = &second
	}
	if order.CampaignIDs != nil {
		cloned.CampaignIDs = append([]string(nil), order.CampaignIDs...)
	}
	return cloned
}
