package realtime

import (
	"context"
	"sync"
)

// Subscriber is the slice of Client the cache needs.
type Subscriber interface {
	Subscribe(ctx context.Context, key string, cb Callback) error
}

// BalanceCache keeps the last observed value per key, fed by push updates and
// poller refreshes. Handlers read from it without touching the transport.
type BalanceCache struct {
	client Subscriber

	mu      sync.RWMutex
	values  map[string]int64
	watched map[string]struct{}
}

func NewBalanceCache(client Subscriber) *BalanceCache {
	return &BalanceCache{
		client:  client,
		values:  make(map[string]int64),
		watched: make(map[string]struct{}),
	}
}

// Watch subscribes to a key once; later calls are no-ops. The first value
// arrives via the client's eager fetch.
func (c *BalanceCache) Watch(ctx context.Context, key string) error {
	c.mu.Lock()
	if _, ok := c.watched[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.watched[key] = struct{}{}
	c.mu.Unlock()

	return c.client.Subscribe(ctx, key, func(key string, value int64) {
		c.mu.Lock()
		c.values[key] = value
		c.mu.Unlock()
	})
}

// Value returns the last observed value for a key.
func (c *BalanceCache) Value(key string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}
