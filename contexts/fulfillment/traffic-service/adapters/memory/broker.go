package memory

import (
	"context"
	"sync"

	"boostpanel/contexts/fulfillment/traffic-service/domain/entities"
	domainerrors "boostpanel/contexts/fulfillment/traffic-service/domain/errors"
)

// Broker is an in-process stand-in for the external traffic platform. Tests
// and the in-memory module drive delivery by setting click counters.
type Broker struct {
	mu sync.RWMutex

	offers      map[string]offer
	attachments map[string]map[string]bool
	clicks      map[string]int64
	conversions map[string]int64

	// FailRemove simulates per-campaign removal outages.
	FailRemove map[string]error
}

type offer struct {
	Name      string
	TargetURL string
}

func NewBroker() *Broker {
	return &Broker{
		offers:      make(map[string]offer),
		attachments: make(map[string]map[string]bool),
		clicks:      make(map[string]int64),
		conversions: make(map[string]int64),
		FailRemove:  make(map[string]error),
	}
}

func (b *Broker) CreateOrUpdateOffer(_ context.Context, offerID string, name string, targetURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.offers[offerID] = offer{Name: name, TargetURL: targetURL}
	return nil
}

func (b *Broker) AddOfferToCampaign(_ context.Context, campaignID string, offerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.offers[offerID]; !exists {
		return domainerrors.ErrOfferNotFound
	}
	if b.attachments[offerID] == nil {
		b.attachments[offerID] = make(map[string]bool)
	}
	b.attachments[offerID][campaignID] = true
	return nil
}

func (b *Broker) RemoveOfferFromCampaign(_ context.Context, campaignID string, offerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err, failing := b.FailRemove[campaignID]; failing {
		return err
	}
	if campaigns, exists := b.attachments[offerID]; exists {
		delete(campaigns, campaignID)
	}
	return nil
}

func (b *Broker) GetOfferStats(_ context.Context, offerID string) (entities.OfferStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, exists := b.offers[offerID]; !exists {
		return entities.OfferStats{}, domainerrors.ErrOfferNotFound
	}
	return entities.OfferStats{
		OfferID:     offerID,
		Clicks:      b.clicks[offerID],
		Conversions: b.conversions[offerID],
	}, nil
}

// SetClicks overrides the delivered counter for an offer.
func (b *Broker) SetClicks(offerID string, clicks int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.clicks[offerID] = clicks
}

// Attachments returns the campaigns an offer is currently attached to.
func (b *Broker) Attachments(offerID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]string, 0)
	for campaignID, attached := range b.attachments[offerID] {
		if attached {
			ids = append(ids, campaignID)
		}
	}
	return ids
}
