// Package cache provides the bounded, concurrency-safe key/value stores the
// extraction pipeline shares across calls.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Config controls how a cache behaves.
type Config struct {
	// Name identifies the cache in stats and metrics.
	Name string
	// MaxEntries bounds the number of stored keys. The least recently used
	// entry is evicted when an insert would exceed it.
	MaxEntries int
	// TTL is the validity window of an entry. Zero means entries stay valid
	// until evicted.
	TTL time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Name       string `json:"name"`
	Size       int    `json:"size"`
	MaxEntries int    `json:"max_entries"`
	Hits       int64  `json:"hits"`
	Misses     int64  `json:"misses"`
	Evictions  int64  `json:"evictions"`
}

// entry is a stored value with its insertion time.
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a thread-safe LRU cache with an optional validity window. Values
// are returned by copy, so an entry evicted after a lookup never affects the
// caller that read it. Eviction happens inline with Put; there is no
// background sweep.
type Cache[V any] struct {
	cfg   Config
	items *lru.Cache[string, entry[V]]
	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a cache. MaxEntries must be positive.
func New[V any](cfg Config) (*Cache[V], error) {
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("cache %q: max entries must be positive, got %d", cfg.Name, cfg.MaxEntries)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &Cache[V]{cfg: cfg}
	items, err := lru.NewWithEvict(cfg.MaxEntries, func(string, entry[V]) {
		c.evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("cache %q: %w", cfg.Name, err)
	}
	c.items = items
	return c, nil
}

// Name returns the configured cache name.
func (c *Cache[V]) Name() string { return c.cfg.Name }

// Get returns the value for key if present and still valid.
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.fresh(key, true)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores value under key, overwriting any previous entry.
func (c *Cache[V]) Put(key string, value V) {
	c.items.Add(key, entry[V]{value: value, storedAt: c.cfg.Now()})
}

// ErrLoadPanicked is returned by Load when the load function panicked.
var ErrLoadPanicked = errors.New("cache load panicked")

// Load returns the cached value for key, or calls load and stores its result.
// Concurrent misses for the same key share a single load. Whatever load
// returns, including a failure value, is cached. The returned error is
// non-nil when ctx ends before the value is available, or when load panics;
// a panicking load stores nothing.
func (c *Cache[V]) Load(ctx context.Context, key string, load func(context.Context) V) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	ch := c.group.DoChan(key, func() (val any, err error) {
		// Another caller may have stored the value between our miss and
		// acquiring the flight.
		if v, ok := c.fresh(key, false); ok {
			return v, nil
		}
		// singleflight re-panics on its own goroutine, out of reach of
		// any caller's recover.
		defer func() {
			if r := recover(); r != nil {
				var zero V
				val, err = zero, fmt.Errorf("cache %q: key %q: %w: %v", c.cfg.Name, key, ErrLoadPanicked, r)
			}
		}()
		v := load(ctx)
		c.Put(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val.(V), res.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Len returns the number of stored entries, including expired ones that
// have not been overwritten or evicted yet.
func (c *Cache[V]) Len() int {
	return c.items.Len()
}

// Stats returns the current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:       c.cfg.Name,
		Size:       c.items.Len(),
		MaxEntries: c.cfg.MaxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}

func (c *Cache[V]) fresh(key string, touch bool) (V, bool) {
	var (
		e  entry[V]
		ok bool
	)
	if touch {
		e, ok = c.items.Get(key)
	} else {
		e, ok = c.items.Peek(key)
	}
	if !ok {
		var zero V
		return zero, false
	}
	if c.cfg.TTL > 0 && c.cfg.Now().Sub(e.storedAt) >= c.cfg.TTL {
		var zero V
		return zero, false
	}
	return e.value, true
}
