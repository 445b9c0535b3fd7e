// Package cartcache keeps a read-through Redis copy of carts for display
// reads. Checkout and cart mutations always go to the authoritative store;
// the cache is invalidated after every committed write.
package cartcache

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-marketplace/internal/domain/cart"
	"github.com/xenking/kart-marketplace/internal/domain/uow"
)

// DefaultTTL bounds how long a cart may be served stale.
const DefaultTTL = 30 * time.Second

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "market_cart_cache_lookups_total",
	Help: "Cart cache lookups by result.",
}, []string{"result"})

// Cache serves cart.Reader from Redis and falls back to the wrapped
// repository on a miss.
type Cache struct {
	client redis.Cmdable
	next   cart.Repository
	ttl    time.Duration
	group  singleflight.Group
}

var _ cart.Reader = (*Cache)(nil)

// New creates a Cache in front of next. A non-positive ttl selects DefaultTTL.
func New(client redis.Cmdable, next cart.Repository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, next: next, ttl: ttl}
}

func key(userID string) string {
	return "cart:" + userID
}

// Get returns the cached cart of userID or loads it. Concurrent misses for
// the same user share one load. Redis failures degrade to a direct read.
func (c *Cache) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	lg := zctx.From(ctx)

	data, err := c.client.Get(ctx, key(userID)).Bytes()
	switch {
	case err == nil:
		got, decErr := decodeCart(data)
		if decErr == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return got, nil
		}
		lg.Warn("Drop undecodable cart cache entry", zap.String("user_id", userID), zap.Error(decErr))
	case !errors.Is(err, redis.Nil):
		lg.Warn("Cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(userID, func() (any, error) {
		loaded, err := c.next.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := c.set(ctx, loaded); err != nil {
			lg.Warn("Cart cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
		return loaded, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load cart")
	}
	return v.(*cart.Cart).Clone(), nil
}

func (c *Cache) set(ctx context.Context, in *cart.Cart) error {
	// Jitter spreads expirations of carts loaded together.
	ttl := c.ttl + time.Duration(rand.Int64N(int64(c.ttl/10)+1))
	return c.client.Set(ctx, key(in.UserID), encodeCart(in), ttl).Err()
}

// Invalidate drops the cached cart of userID.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, key(userID)).Err(); err != nil {
		return errors.Wrapf(err, "invalidate cart of %s", userID)
	}
	return nil
}

// Repository returns a cart.Repository that writes through to the wrapped
// repository and invalidates the cache once the write is committed.
func (c *Cache) Repository() cart.Repository {
	return invalidating{c: c}
}

type invalidating struct {
	c *Cache
}

func (r invalidating) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.c.next.Get(ctx, userID)
}

func (r invalidating) GetForUpdate(ctx context.Context, userID string) (*cart.Cart, error) {
	return r.c.next.GetForUpdate(ctx, userID)
}

func (r invalidating) Save(ctx context.Context, in *cart.Cart) error {
	if err := r.c.next.Save(ctx, in); err != nil {
		return err
	}
	r.invalidateAfterCommit(ctx, in.UserID)
	return nil
}

func (r invalidating) Clear(ctx context.Context, userID string) error {
	if err := r.c.next.Clear(ctx, userID); err != nil {
		return err
	}
	r.invalidateAfterCommit(ctx, userID)
	return nil
}

// invalidateAfterCommit drops the entry once the surrounding transaction
// commits. Dropping it earlier would let a concurrent miss re-cache the old
// committed cart. Failures are logged; a surviving entry expires after the TTL.
func (r invalidating) invalidateAfterCommit(ctx context.Context, userID string) {
	uow.AfterCommit(ctx, func(ctx context.Context) {
		if err := r.c.Invalidate(ctx, userID); err != nil {
			zctx.From(ctx).Warn("Cart cache invalidation failed", zap.Error(err))
		}
	})
}
