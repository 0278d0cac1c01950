package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vhorizon/authstate/internal/retry"
)

// DefaultRetryPolicy retries a failed load twice, waiting min(1s*2^n, 3s) between tries.
var DefaultRetryPolicy = retry.Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Second,
	MaxBackoff:     3 * time.Second,
}

// Options configures a Cache.
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
	// LoadTimeout bounds a shared load, retries included.
	LoadTimeout time.Duration
	Retry       retry.Policy
	Logger          *zap.Logger
}

type entry struct {
	value any
	gen   uint64
}

// Cache is safe for concurrent use.
type Cache struct {
	items  *gocache.Cache
	group  singleflight.Group
	policy      retry.Policy
	loadTimeout time.Duration
	log         *zap.Logger

	mu  sync.RWMutex
	gen uint64

	invalidations atomic.Uint64
	clears        atomic.Uint64
}

// New returns a Cache. Zero options mean a 5 minute TTL, a 10 minute cleanup interval,
// a 30 second load timeout and [DefaultRetryPolicy].
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 10 * time.Minute
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		items:  gocache.New(opts.TTL, opts.CleanupInterval),
		policy:      opts.Retry,
		loadTimeout: opts.LoadTimeout,
		log:         opts.Logger,
	}
}

// Generation returns the current cache generation.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Get returns the value for key if it was stored in the current generation.
func (c *Cache) Get(key string) (any, bool) {
	raw, ok := c.items.Get(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if e.gen != c.Generation() {
		return nil, false
	}
	return e.value, true
}

// Set stores value under key in the current generation.
func (c *Cache) Set(key string, value any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.items.SetDefault(key, entry{value: value, gen: c.gen})
}

// setIfGeneration stores value only if no invalidation happened since gen.
func (c *Cache) setIfGeneration(key string, value any, gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.gen != gen {
		return false
	}
	c.items.SetDefault(key, entry{value: value, gen: gen})
	return true
}

func (c *Cache) Delete(key string) {
	c.items.Delete(key)
}

// InvalidateAll marks every entry stale. Stale entries are never returned; the next
// read refetches.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
	c.invalidations.Add(1)
	c.log.Debug("query cache invalidated")
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.gen++
	c.items.Flush()
	c.mu.Unlock()
	c.clears.Add(1)
	c.log.Debug("query cache cleared")
}

// Len counts stored entries, stale ones included.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Stats reports how often the cache was invalidated and cleared.
func (c *Cache) Stats() (invalidations, clears uint64) {
	return c.invalidations.Load(), c.clears.Load()
}

func classify(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || retry.IsPermanent(err) {
		return retry.Stop
	}
	return retry.Retry
}

// Fetch returns the cached value for key or loads it with fn. Concurrent fetches of
// the same key in the same generation share one load. Failed loads are retried per the
// cache's policy; wrap an error with [retry.PermanentError] to stop retrying.
//
// The shared load does not inherit cancellation from whichever caller started it; it
// is bounded by the cache's load timeout instead. A caller whose ctx ends stops
// waiting and gets ctx.Err() while the others keep waiting for the load.
func Fetch[T any](ctx context.Context, c *Cache, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	gen := c.Generation()
	flightKey := fmt.Sprintf("%d/%s", gen, key)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		policy := c.policy
		policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
			c.log.Debug("query load failed, retrying",
				zap.String("key", key),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}
		val, err := retry.Do(loadCtx, policy, classify, retry.Operation[T](fn))
		if err != nil {
			return nil, err
		}
		if !c.setIfGeneration(key, val, gen) {
			c.log.Debug("discarding query result loaded before invalidation", zap.String("key", key))
		}
		return val, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		typed, _ := res.Val.(T)
		return typed, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
