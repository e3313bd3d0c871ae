package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options controls entry lifetime and capacity.
type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	MaxEntries           int
}

// Hooks receives cache outcome notifications, typically wired to Prometheus counters.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
}

type entry struct {
	value     interface{}
	expiresAt time.Time
	staleAt   time.Time
}

// Cache is an in-memory TTL cache with stale-while-revalidate and
// singleflight-deduplicated loads. The query API uses it to absorb repeated
// reads of pair, group and risk listings between analysis runs.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	order []string
	opts  Options
	hooks Hooks
	sf    singleflight.Group
}

// Loader fetches the value for a key on miss.
type Loader func(ctx context.Context, key string) (interface{}, error)

func New(opts Options, hooks Hooks) *Cache {
	return &Cache{
		items: make(map[string]*entry),
		order: make([]string, 0, 64),
		opts:  opts,
		hooks: hooks,
	}
}

// Get returns the cached value for key, loading it on miss. A stale entry is
// served immediately while a single background refresh runs.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	if ok && now.Before(e.expiresAt) {
		val := e.value
		c.mu.RUnlock()
		if c.hooks.OnHit != nil {
			c.hooks.OnHit(key)
		}
		return val, nil
	}
	if ok && now.Before(e.staleAt) {
		val := e.value
		c.mu.RUnlock()
		if c.hooks.OnStale != nil {
			c.hooks.OnStale(key)
		}
		go func() {
			_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
				if val, err := loader(context.WithoutCancel(ctx), key); err == nil {
					c.Set(key, val)
				}
				return nil, nil
			})
		}()
		return val, nil
	}
	c.mu.RUnlock()

	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss(key)
	}

	val, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.Set(key, val)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value with the configured TTL.
func (c *Cache) Set(key string, val interface{}) {
	now := time.Now()
	e := &entry{
		value:     val,
		expiresAt: now.Add(c.opts.TTL),
		staleAt:   now.Add(c.opts.TTL + c.opts.StaleWhileRevalidate),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

// Delete removes a key. The scheduler calls this after each analysis run so
// the API never serves results from a previous run past the TTL.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.removeFromOrder(key)
	c.mu.Unlock()
}

// Purge drops all entries.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.items = make(map[string]*entry)
	c.order = c.order[:0]
	c.mu.Unlock()
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	// FIFO eviction keeps this simple; entries are few and short-lived
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}
