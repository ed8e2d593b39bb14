package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestCacheSetPeekDelete(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxEntries: 10}, Hooks{})

	c.Set("departure", "Москва", time.Minute)
	if val, ok := c.Peek("departure"); !ok || val != "Москва" {
		t.Fatalf("expected peeked value, got %q %v", val, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", c.Len())
	}

	c.Delete("departure")
	if _, ok := c.Peek("departure"); ok {
		t.Fatalf("expected key to be deleted")
	}
}

func TestCacheGetHitMissStaleRefresh(t *testing.T) {
	c := New[int](Options{TTL: 20 * time.Millisecond, StaleWhileRevalidate: 200 * time.Millisecond}, Hooks{})

	var calls int32
	refreshed := make(chan struct{}, 1)
	loader := func(_ context.Context, _ string) (int, error) {
		n := int(atomic.AddInt32(&calls, 1))
		if n == 2 {
			refreshed <- struct{}{}
		}
		return n, nil
	}

	if val, err := c.Get(context.Background(), "meal", loader); err != nil || val != 1 {
		t.Fatalf("expected first load, got %d %v", val, err)
	}
	if val, _ := c.Get(context.Background(), "meal", loader); val != 1 {
		t.Fatalf("expected cache hit, got %d", val)
	}

	time.Sleep(25 * time.Millisecond)
	if val, _ := c.Get(context.Background(), "meal", loader); val != 1 {
		t.Fatalf("expected stale value, got %d", val)
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatalf("expected refresh to run")
	}
	time.Sleep(10 * time.Millisecond)
	if val, ok := c.Peek("meal"); !ok || val != 2 {
		t.Fatalf("expected refreshed value, got %d %v", val, ok)
	}
}

func TestCacheRefreshSurvivesCancelledRequest(t *testing.T) {
	c := New[string](Options{TTL: time.Millisecond, StaleWhileRevalidate: time.Second}, Hooks{})
	c.Set("k", "old", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	done := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	_, _ = c.Get(ctx, "k", func(ctx context.Context, _ string) (string, error) {
		done <- ctx.Err()
		return "new", nil
	})
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected refresh context to ignore caller cancellation, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected background refresh")
	}
}

func TestCacheNegativeTTL(t *testing.T) {
	var errs int32
	c := New[string](Options{TTL: time.Minute, NegativeTTL: 30 * time.Millisecond}, Hooks{
		OnError: func(string, error) { atomic.AddInt32(&errs, 1) },
	})

	var calls int32
	errBoom := errors.New("boom")
	loader := func(_ context.Context, _ string) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "", errBoom
	}

	if _, err := c.Get(context.Background(), "neg", loader); !errors.Is(err, errBoom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if _, err := c.Get(context.Background(), "neg", loader); !errors.Is(err, errBoom) {
		t.Fatalf("expected cached negative error, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single loader call, got %d", got)
	}

	time.Sleep(35 * time.Millisecond)
	_, _ = c.Get(context.Background(), "neg", loader)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected loader to run after negative ttl, got %d", got)
	}
	if atomic.LoadInt32(&errs) != 2 {
		t.Fatalf("expected error hook per load")
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string](Options{TTL: time.Minute, MaxEntries: 2}, Hooks{})
	loader := func(_ context.Context, key string) (string, error) { return key, nil }

	c.Set("first", "one", time.Minute)
	c.Set("second", "two", time.Minute)
	if _, err := c.Get(context.Background(), "first", loader); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.Set("third", "three", time.Minute)

	if _, ok := c.Peek("second"); ok {
		t.Fatalf("expected second entry to be evicted")
	}
	if _, ok := c.Peek("first"); !ok {
		t.Fatalf("expected recently used entry to remain")
	}
	if _, ok := c.Peek("third"); !ok {
		t.Fatalf("expected third entry to remain")
	}
}
