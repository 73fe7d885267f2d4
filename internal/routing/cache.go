package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/edugate/internal/bus"
	"github.com/nextlevelbuilder/edugate/internal/store"
	"github.com/nextlevelbuilder/edugate/pkg/protocol"
)

// BindingLookup is the read side of store.BindingStore used by the resolver.
type BindingLookup interface {
	TenantByGatewayAddress(ctx context.Context, addr string) (uuid.UUID, error)
	TenantByGroupAddress(ctx context.Context, addr string) (uuid.UUID, error)
}

// BindingCache fronts a BindingLookup with an expiring LRU. Misses are cached
// too; rebinding broadcasts a cache.invalidate event that evicts the address.
type BindingCache struct {
	next    BindingLookup
	gateway *expirable.LRU[string, uuid.UUID]
	group   *expirable.LRU[string, uuid.UUID]
	sf      singleflight.Group
}

func NewBindingCache(next BindingLookup, size int, ttl time.Duration) *BindingCache {
	if size <= 0 {
		size = 4096
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &BindingCache{
		next:    next,
		gateway: expirable.NewLRU[string, uuid.UUID](size, nil, ttl),
		group:   expirable.NewLRU[string, uuid.UUID](size, nil, ttl),
	}
}

func (c *BindingCache) TenantByGatewayAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	key := store.BareAddress(addr)
	return c.lookup(ctx, c.gateway, "gw:"+key, key, c.next.TenantByGatewayAddress)
}

func (c *BindingCache) TenantByGroupAddress(ctx context.Context, addr string) (uuid.UUID, error) {
	return c.lookup(ctx, c.group, "grp:"+addr, addr, c.next.TenantByGroupAddress)
}

func (c *BindingCache) lookup(
	ctx context.Context,
	lru *expirable.LRU[string, uuid.UUID],
	flightKey, key string,
	load func(context.Context, string) (uuid.UUID, error),
) (uuid.UUID, error) {
	if id, ok := lru.Get(key); ok {
		if id == uuid.Nil {
			return uuid.Nil, store.ErrNotFound
		}
		return id, nil
	}

	v, err, _ := c.sf.Do(flightKey, func() (any, error) {
		id, err := load(ctx, key)
		switch {
		case err == nil:
			lru.Add(key, id)
		case errors.Is(err, store.ErrNotFound):
			lru.Add(key, uuid.Nil)
		}
		return id, err
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(uuid.UUID), nil
}

// Invalidate evicts key from the cache of the given kind; an empty key clears it.
func (c *BindingCache) Invalidate(kind, key string) {
	switch kind {
	case bus.CacheKindGatewayBinding:
		if key == "" {
			c.gateway.Purge()
			return
		}
		c.gateway.Remove(store.BareAddress(key))
	case bus.CacheKindGroupBinding:
		if key == "" {
			c.group.Purge()
			return
		}
		for _, f := range store.GroupAddressForms(key) {
			c.group.Remove(f)
		}
	}
}

// HandleEvent is a bus.EventHandler applying cache.invalidate events.
func (c *BindingCache) HandleEvent(ev bus.Event) {
	if ev.Name != protocol.EventCacheInvalidate {
		return
	}
	p, ok := ev.Payload.(bus.CacheInvalidatePayload)
	if !ok {
		return
	}
	c.Invalidate(p.Kind, p.Key)
	slog.Debug("routing.cache_invalidated", "kind", p.Kind, "key", p.Key)
}
