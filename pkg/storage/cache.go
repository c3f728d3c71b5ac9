package storage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/observability"
)

// ClientCache is an in-process LRU in front of a ClientStore. Clients are
// immutable once issued, so cached entries never go stale; the LRU bound only
// caps memory. Unknown identifiers are not cached, so a client registered
// after a failed lookup becomes visible immediately.
type ClientCache struct {
	store   auth.ClientStore
	cache   *lru.Cache[string, *auth.Client]
	metrics *observability.Metrics
}

// NewClientCache wraps store with an LRU of the given size. metrics may be nil.
func NewClientCache(store auth.ClientStore, size int, metrics *observability.Metrics) (*ClientCache, error) {
	cache, err := lru.New[string, *auth.Client](size)
	if err != nil {
		return nil, err
	}
	return &ClientCache{store: store, cache: cache, metrics: metrics}, nil
}

// GetClient implements auth.ClientStore
func (c *ClientCache) GetClient(ctx context.Context, id string) (*auth.Client, error) {
	if client, ok := c.cache.Get(id); ok {
		c.hit()
		return client, nil
	}
	c.miss()

	client, err := c.store.GetClient(ctx, id)
	if err != nil {
		return nil, err
	}
	if client != nil {
		c.cache.Add(id, client)
	}
	return client, nil
}

func (c *ClientCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("client").Inc()
	}
}

func (c *ClientCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("client").Inc()
	}
}
