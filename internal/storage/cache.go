package storage

import (
	"context"

	"github.com/goodtune/adherence/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultIdentityCacheSize is used when a non-positive size is configured.
const DefaultIdentityCacheSize = 1024

// CachedIdentities wraps an IdentityStore with an LRU cache keyed by id.
// Identities never change after creation, so entries are never invalidated.
type CachedIdentities struct {
	next  IdentityStore
	cache *lru.Cache[string, Identity]
}

// NewCachedIdentities creates a caching IdentityStore.
func NewCachedIdentities(next IdentityStore, size int) (*CachedIdentities, error) {
	if size <= 0 {
		size = DefaultIdentityCacheSize
	}
	cache, err := lru.New[string, Identity](size)
	if err != nil {
		return nil, err
	}
	return &CachedIdentities{next: next, cache: cache}, nil
}

// Resolve delegates to the wrapped store and remembers the result.
func (c *CachedIdentities) Resolve(ctx context.Context, name, roleIdentifier string, role Role) (*Identity, error) {
	identity, err := c.next.Resolve(ctx, name, roleIdentifier, role)
	if err != nil {
		return nil, err
	}
	c.cache.Add(identity.ID, *identity)
	return identity, nil
}

// Get serves from the cache when possible.
func (c *CachedIdentities) Get(ctx context.Context, id string) (*Identity, error) {
	if identity, ok := c.cache.Get(id); ok {
		metrics.IdentityCacheHits.Inc()
		return &identity, nil
	}
	metrics.IdentityCacheMisses.Inc()
	identity, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(identity.ID, *identity)
	return identity, nil
}

// ListByRole always reads through; new identities may have appeared.
func (c *CachedIdentities) ListByRole(ctx context.Context, role Role) ([]Identity, error) {
	identities, err := c.next.ListByRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for _, identity := range identities {
		c.cache.Add(identity.ID, identity)
	}
	return identities, nil
}
