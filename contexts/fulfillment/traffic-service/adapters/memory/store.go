package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"

	"github.com/google/uuid"
)

type Store struct {
	mu sync.RWMutex

	endpoints    []entities.CampaignEndpoint
	assignments  map[string]entities.Assignment
	coefficients map[string]entities.Coefficient
}

func NewStore(endpoints []entities.CampaignEndpoint) *Store {
	return &Store{
		endpoints:    endpoints,
		assignments:  make(map[string]entities.Assignment),
		coefficients: make(map[string]entities.Coefficient),
	}
}

func (s *Store) ListActiveEndpoints(_ context.Context) ([]entities.CampaignEndpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]entities.CampaignEndpoint, 0, len(s.endpoints))
	for _, endpoint := range s.endpoints {
		if endpoint.Active {
			active = append(active, endpoint)
		}
	}
	return active, nil
}

func (s *Store) AdjustEndpointLoad(_ context.Context, endpointID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.endpoints {
		if s.endpoints[i].ID != endpointID {
			continue
		}
		s.endpoints[i].ActiveOffers += delta
		if s.endpoints[i].ActiveOffers < 0 {
			s.endpoints[i].ActiveOffers = 0
		}
		return nil
	}
	return domainerrors.ErrEndpointNotFound
}

// EndpointLoad reads the active-offer counter; tests assert on it.
func (s *Store) EndpointLoad(endpointID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, endpoint := range s.endpoints {
		if endpoint.ID == endpointID {
			return endpoint.ActiveOffers
		}
	}
	return 0
}

func (s *Store) CreateAssignment(_ context.Context, assignment entities.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.assignments[assignment.OrderID]; exists && existing.Active {
		return domainerrors.ErrDuplicateAssignment
	}
	s.assignments[assignment.OrderID] = assignment
	return nil
}

func (s *Store) GetAssignmentByOrder(_ context.Context, orderID string) (entities.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignment, exists := s.assignments[strings.TrimSpace(orderID)]
	if !exists {
		return entities.Assignment{}, domainerrors.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *Store) UpdateAssignment(_ context.Context, assignment entities.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.assignments[assignment.OrderID]; !exists {
		return domainerrors.ErrAssignmentNotFound
	}
	s.assignments[assignment.OrderID] = assignment
	return nil
}

func (s *Store) GetCoefficient(_ context.Context, serviceID string) (entities.Coefficient, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coefficient, found := s.coefficients[strings.TrimSpace(serviceID)]
	return coefficient, found, nil
}

func (s *Store) SetCoefficient(_ context.Context, coefficient entities.Coefficient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.coefficients[coefficient.ServiceID] = coefficient
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
