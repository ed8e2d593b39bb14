package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Hooks receive registry events, typically to feed metrics.
type Hooks[T any] struct {
	OnCreate func(id string)
	OnEvict  func(id string, value T)
	OnSize   func(n int)
}

type entry[T any] struct {
	// mu serializes messages of one session.
	mu       sync.Mutex
	value    T
	lastUsed atomic.Int64
	removed  bool // guarded by mu
}

// Registry keeps per-session values created on first use. Work on one
// session is serialized; different sessions share nothing.
type Registry[T any] struct {
	entries sync.Map // id -> *entry[T]
	size    atomic.Int64
	newFn   func() T
	ttl     time.Duration
	hooks   Hooks[T]
	now     func() time.Time
}

type Option[T any] func(*Registry[T])

func WithTTL[T any](ttl time.Duration) Option[T] {
	return func(r *Registry[T]) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithHooks[T any](hooks Hooks[T]) Option[T] {
	return func(r *Registry[T]) { r.hooks = hooks }
}

func WithClock[T any](now func() time.Time) Option[T] {
	return func(r *Registry[T]) {
		if now != nil {
			r.now = now
		}
	}
}

func NewRegistry[T any](newFn func() T, opts ...Option[T]) *Registry[T] {
	r := &Registry[T]{
		newFn: newFn,
		ttl:   DefaultTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// With runs fn with the value of session id, creating it when missing. Calls
// for the same id run one at a time.
func (r *Registry[T]) With(id string, fn func(T) error) error {
	for {
		e := r.load(id)
		e.mu.Lock()
		if e.removed {
			// Swept between load and lock; take the fresh entry.
			e.mu.Unlock()
			continue
		}
		e.lastUsed.Store(r.now().UnixNano())
		err := fn(e.value)
		e.lastUsed.Store(r.now().UnixNano())
		e.mu.Unlock()
		return err
	}
}

func (r *Registry[T]) load(id string) *entry[T] {
	if v, ok := r.entries.Load(id); ok {
		return v.(*entry[T])
	}
	fresh := &entry[T]{value: r.newFn()}
	fresh.lastUsed.Store(r.now().UnixNano())
	v, loaded := r.entries.LoadOrStore(id, fresh)
	if !loaded {
		n := r.size.Add(1)
		if r.hooks.OnCreate != nil {
			r.hooks.OnCreate(id)
		}
		r.reportSize(n)
	}
	return v.(*entry[T])
}

// Get returns the value of id without creating it.
func (r *Registry[T]) Get(id string) (T, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(*entry[T]).value, true
}

// Delete forgets session id, waiting for a running call on it to finish.
func (r *Registry[T]) Delete(id string) bool {
	v, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry[T])
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.removeLocked(id, e)
}

func (r *Registry[T]) removeLocked(id string, e *entry[T]) bool {
	if e.removed {
		return false
	}
	e.removed = true
	r.entries.CompareAndDelete(id, e)
	n := r.size.Add(-1)
	if r.hooks.OnEvict != nil {
		r.hooks.OnEvict(id, e.value)
	}
	r.reportSize(n)
	return true
}

func (r *Registry[T]) reportSize(n int64) {
	if r.hooks.OnSize != nil {
		r.hooks.OnSize(int(n))
	}
}

func (r *Registry[T]) Len() int { return int(r.size.Load()) }

// Range calls fn for every live session until fn returns false. Values may
// be in use by a concurrent call.
func (r *Registry[T]) Range(fn func(id string, value T) bool) {
	r.entries.Range(func(k, v any) bool {
		return fn(k.(string), v.(*entry[T]).value)
	})
}

// Sweep evicts sessions idle for longer than the TTL. Sessions with a call
// in progress are skipped.
func (r *Registry[T]) Sweep() int {
	cutoff := r.now().Add(-r.ttl).UnixNano()
	evicted := 0
	r.entries.Range(func(k, v any) bool {
		e := v.(*entry[T])
		if e.lastUsed.Load() > cutoff || !e.mu.TryLock() {
			return true
		}
		if e.lastUsed.Load() <= cutoff && r.removeLocked(k.(string), e) {
			evicted++
		}
		e.mu.Unlock()
		return true
	})
	return evicted
}

// Run sweeps every interval until ctx is cancelled.
func (r *Registry[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
