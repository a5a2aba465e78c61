package jwks

import (
	"context"
	"errors"
	"sync"
	"time"
)

// NeverExpires disables time-based expiry for a Cache. Refreshes then only
// happen when forced, or when nothing has been cached yet.
const NeverExpires time.Duration = -1

// RefreshFunc produces a fresh value for a Cache.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// Cache holds one value produced by a refresh function and refreshes it on
// demand. At most one refresh runs at a time: callers that arrive while a
// refresh is in flight wait for that refresh instead of starting another,
// and observe its result. A failed refresh leaves the previous value in place.
//
// There is no background timer, refreshes are always driven by GetData.
type Cache[T any] struct {
	ttl     time.Duration
	refresh RefreshFunc[T]
	now     func() time.Time

	mu          sync.Mutex
	data        T
	hasData     bool
	refreshedAt time.Time
	inflight    *refreshCall[T]
}

// refreshCall is the handle shared by every caller waiting on one refresh.
type refreshCall[T any] struct {
	done chan struct{}
	data T
	err  error
}

// NewCache returns a Cache with the given ttl (or NeverExpires) around refresh.
func NewCache[T any](ttl time.Duration, refresh RefreshFunc[T]) *Cache[T] {
	return &Cache[T]{
		ttl:     ttl,
		refresh: refresh,
		now:     time.Now,
	}
}

// GetData returns the cached value. A refresh runs first when forceRefresh is
// set, when the ttl has elapsed, or when no value has been cached yet. If a
// refresh is already running the caller waits for it, whatever forceRefresh is.
//
// ctx only bounds how long this caller waits. The refresh itself runs with a
// context stripped of cancellation so that one caller giving up does not fail
// every other waiter; timeouts belong to the refresh function.
func (c *Cache[T]) GetData(ctx context.Context, forceRefresh bool) (T, error) {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		return c.wait(ctx, call)
	}

	if !forceRefresh && c.hasData && !c.expiredLocked() {
		data := c.data
		c.mu.Unlock()
		return data, nil
	}

	call := &refreshCall[T]{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	go c.run(context.WithoutCancel(ctx), call)

	return c.wait(ctx, call)
}

// RefreshTime returns when the value was last successfully refreshed.
// The zero time means it never was.
func (c *Cache[T]) RefreshTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshedAt
}

func (c *Cache[T]) run(ctx context.Context, call *refreshCall[T]) {
	data, err := c.safeRefresh(ctx)

	c.mu.Lock()
	if err == nil {
		c.data = data
		c.hasData = true
		c.refreshedAt = c.now()
	}
	call.data = c.data
	call.err = err
	c.inflight = nil
	c.mu.Unlock()

	close(call.done)
}

func (c *Cache[T]) safeRefresh(ctx context.Context) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("cache refresh panicked")
		}
	}()
	return c.refresh(ctx)
}

func (c *Cache[T]) wait(ctx context.Context, call *refreshCall[T]) (T, error) {
	select {
	case <-call.done:
		if call.err != nil {
			var zero T
			return zero, call.err
		}
		return call.data, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (c *Cache[T]) expiredLocked() bool {
	if c.ttl == NeverExpires {
		return false
	}
	return c.now().After(c.refreshedAt.Add(c.ttl))
}
