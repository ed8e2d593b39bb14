package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options controls entry lifetimes and capacity.
type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	// NegativeTTL caches loader errors; zero disables negative caching.
	NegativeTTL time.Duration
	MaxEntries  int
}

// Hooks receive cache events, typically to feed metrics.
type Hooks struct {
	OnHit   func(key string)
	OnMiss  func(key string)
	OnStale func(key string)
	OnError func(key string, err error)
}

// Loader fetches the value for key on a miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	key       string
	value     V
	err       error
	expiresAt time.Time
	staleAt   time.Time
	elem      *list.Element
}

// Cache is an in-process TTL cache with stale-while-revalidate and
// single-flighted loads. Eviction is least recently used.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
	lru   *list.List
	opts  Options
	hooks Hooks
	sf    singleflight.Group
	now   func() time.Time
}

func New[V any](opts Options, hooks Hooks) *Cache[V] {
	return &Cache[V]{
		items: make(map[string]*entry[V]),
		lru:   list.New(),
		opts:  opts,
		hooks: hooks,
		now:   time.Now,
	}
}

// Get returns the cached value or loads it. A stale entry is served
// immediately while one background refresh runs.
func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, error) {
	now := c.now()
	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		c.lru.MoveToFront(e.elem)
		switch {
		case now.Before(e.expiresAt):
			value, err := e.value, e.err
			c.mu.Unlock()
			c.fire(c.hooks.OnHit, key)
			return value, err
		case e.err == nil && now.Before(e.staleAt):
			value := e.value
			c.mu.Unlock()
			c.fire(c.hooks.OnStale, key)
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					c.load(refreshCtx, key, loader)
					return nil, nil
				})
			}()
			return value, nil
		default:
			c.removeLocked(e)
		}
	}
	c.mu.Unlock()

	c.fire(c.hooks.OnMiss, key)
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		value, err := c.load(ctx, key, loader)
		return loadResult[V]{value: value, err: err}, nil
	})
	res := result.(loadResult[V])
	return res.value, res.err
}

type loadResult[V any] struct {
	value V
	err   error
}

func (c *Cache[V]) load(ctx context.Context, key string, loader Loader[V]) (V, error) {
	value, err := loader(ctx, key)
	if err != nil {
		if c.hooks.OnError != nil {
			c.hooks.OnError(key, err)
		}
		if c.opts.NegativeTTL > 0 {
			c.put(key, value, err, c.opts.NegativeTTL, 0)
		}
		return value, err
	}
	c.put(key, value, nil, c.opts.TTL, c.opts.StaleWhileRevalidate)
	return value, nil
}

// Set stores a value with an explicit TTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.put(key, value, nil, ttl, c.opts.StaleWhileRevalidate)
}

func (c *Cache[V]) put(key string, value V, err error, ttl, swr time.Duration) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.items[key]; ok {
		c.removeLocked(prev)
	}
	e := &entry[V]{
		key:       key,
		value:     value,
		err:       err,
		expiresAt: now.Add(ttl),
		staleAt:   now.Add(ttl + swr),
	}
	e.elem = c.lru.PushFront(e)
	c.items[key] = e
	for c.opts.MaxEntries > 0 && len(c.items) > c.opts.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry[V]))
	}
}

// Peek returns a cached value without loading. Stale entries count.
func (c *Cache[V]) Peek(key string) (V, bool) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok || e.err != nil || c.now().After(e.staleAt) {
		return zero, false
	}
	return e.value, true
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		c.removeLocked(e)
	}
}

func (c *Cache[V]) removeLocked(e *entry[V]) {
	c.lru.Remove(e.elem)
	delete(c.items, e.key)
}

func (c *Cache[V]) fire(hook func(string), key string) {
	if hook != nil {
		hook(key)
	}
}
