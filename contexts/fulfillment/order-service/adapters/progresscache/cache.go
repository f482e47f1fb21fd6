package progresscache

import (
	"context"
	"encoding/json"
	"time"

	"boostpanel/contexts/fulfillment/order-service/ports"
	"boostpanel/internal/platform/cache"
)

const keyPrefix = "order:progress:"

// Cache stores monitor/verifier progress records as JSON values in the
// platform cache so a worker restart picks up where the last one stopped.
type Cache struct {
	Store cache.Store
}

func New(store cache.Store) Cache {
	return Cache{Store: store}
}

func (c Cache) Get(ctx context.Context, orderID string) (ports.ProgressRecord, bool, error) {
	raw, found, err := c.Store.Get(ctx, keyPrefix+orderID)
	if err != nil || !found {
		return ports.ProgressRecord{}, false, err
	}
	var record ports.ProgressRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return ports.ProgressRecord{}, false, err
	}
	return record, true, nil
}

func (c Cache) Put(ctx context.Context, orderID string, record ports.ProgressRecord, ttl time.Duration) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.Store.Set(ctx, keyPrefix+orderID, string(encoded), ttl)
}

func (c Cache) Delete(ctx context.Context, orderID string) error {
	return c.Store.Delete(ctx, keyPrefix+orderID)
}

var _ ports.ProgressCache = Cache{}
