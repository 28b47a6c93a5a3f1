package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ykvlv/fin-assistant-bot/internal/market"
	"github.com/ykvlv/fin-assistant-bot/internal/metrics"
)

// Fetcher is the upstream the cache fills from; *market.Adapter satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, instrument string, kind market.FactKind) (market.Fact, error)
}

// Cache is a TTL fact cache with at most one in-flight fill per key.
type Cache struct {
	store   Store
	fetcher Fetcher
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	group   singleflight.Group
}

// New creates a cache over store. A nil store selects an in-memory one.
func New(store Store, fetcher Fetcher, log *zap.Logger, m *metrics.Metrics) *Cache {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{store: store, fetcher: fetcher, log: log, metrics: m, now: time.Now}
}

// GetOrFetch returns the cached fact for key while it is younger than ttl and
// fetches it otherwise. Concurrent callers of one key share a single fetch.
//
// A failed fetch stores nothing. When an expired entry exists it is returned
// as-is, keeping its original fetch time, so the next call retries the upstream.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, ttl time.Duration) (market.Fact, error) {
	if e, ok := c.lookup(ctx, key); ok && c.fresh(e, ttl) {
		c.metrics.CacheLookup("hit")
		return e.Fact, nil
	}

	// The fill outlives a cancelled caller so waiters of the same key still get a result.
	fillCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (interface{}, error) {
		return c.fill(fillCtx, key, ttl)
	})

	select {
	case <-ctx.Done():
		return market.Fact{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return market.Fact{}, res.Err
		}
		return res.Val.(market.Fact), nil
	}
}

func (c *Cache) fill(ctx context.Context, key Key, ttl time.Duration) (market.Fact, error) {
	stale, hasStale := c.lookup(ctx, key)
	if hasStale && c.fresh(stale, ttl) {
		// filled by a flight that finished between lookup and DoChan
		c.metrics.CacheLookup("hit")
		return stale.Fact, nil
	}

	f, err := c.fetcher.Fetch(ctx, key.Instrument, key.Kind)
	if err != nil {
		if hasStale {
			c.metrics.CacheLookup("stale")
			c.log.Debug("refresh failed, serving stale fact",
				zap.Stringer("key", key),
				zap.Time("fetchedAt", stale.FetchedAt),
				zap.Error(err),
			)
			return stale.Fact, nil
		}
		c.metrics.CacheLookup("miss")
		return market.Fact{}, err
	}

	c.metrics.CacheLookup("miss")
	if err := c.store.Set(ctx, key, Entry{Fact: f, FetchedAt: c.now().UTC()}); err != nil {
		c.log.Warn("cache store write failed", zap.Stringer("key", key), zap.Error(err))
	}
	return f, nil
}

func (c *Cache) lookup(ctx context.Context, key Key) (Entry, bool) {
	e, err := c.store.Get(ctx, key)
	if err == nil {
		return e, true
	}
	if !errors.Is(err, ErrMiss) {
		c.log.Warn("cache store read failed", zap.Stringer("key", key), zap.Error(err))
	}
	return Entry{}, false
}

func (c *Cache) fresh(e Entry, ttl time.Duration) bool {
	return c.now().Sub(e.FetchedAt) <= ttl
}
