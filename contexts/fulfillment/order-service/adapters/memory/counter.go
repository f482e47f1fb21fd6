package memory

import (
	"context"
	"sync"

	domainerrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
)

// Counter fakes the target resource's public counter. Tests and the
// in-memory module drive delivery by setting values per link.
type Counter struct {
	mu          sync.RWMutex
	values      map[string]int64
	unreachable map[string]bool
}

func NewCounter() *Counter {
	return &Counter{
		values:      make(map[string]int64),
		unreachable: make(map[string]bool),
	}
}

func (c *Counter) GetPublicCounter(_ context.Context, link string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.unreachable[link] {
		return 0, domainerrors.ErrTargetUnreachable
	}
	return c.values[link], nil
}

func (c *Counter) SetValue(link string, value int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values[link] = value
}

func (c *Counter) SetUnreachable(link string, unreachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unreachable[link] = unreachable
}
