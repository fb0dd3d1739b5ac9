package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/sitecache/pkg/store"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// APIPrefix is the namespace of request cache entries for API resources.
const APIPrefix = "api"

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 5 * time.Minute

var (
	// ErrTypeMismatch indicates two callers shared a key with different types.
	ErrTypeMismatch = errors.New("cached value has unexpected type")

	// ErrFetchPanic indicates the fetch function panicked.
	ErrFetchPanic = errors.New("fetch panicked")
)

// FetchFunc loads a value from the source of truth on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Options controls a single GetCachedData call.
type Options struct {
	// TTL of the remote entry. Zero uses the cache default.
	TTL time.Duration

	// Prefix is prepended to the key as "prefix:key".
	Prefix string

	// SkipStore bypasses the remote store entirely (no read, no
	// write-through); only in-process coalescing applies.
	SkipStore bool
}

// Cache is a read-through cache over the remote store with in-process
// coalescing of concurrent identical requests.
type Cache struct {
	kv         *store.KV
	logger     zerolog.Logger
	defaultTTL time.Duration
	flights    singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithDefaultTTL sets the TTL used when Options.TTL is zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// New creates a request cache.
func New(kv *store.KV, logger zerolog.Logger, opts ...Option) *Cache {
	if kv == nil {
		panic("store accessors cannot be nil")
	}
	c := &Cache{
		kv:         kv,
		logger:     logger,
		defaultTTL: DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetCachedData returns the value cached under key or loads it with fetch.
//
// The remote store is consulted first. On a miss, at most one fetch per key
// runs in this process at a time; concurrent callers for the same key wait
// for it and share its result. The value is written through to the store
// before the in-flight entry settles, so a caller arriving after settlement
// finds it remotely. A failed write-through is logged and does not fail the
// read. Fetch errors are returned to all waiters and nothing is cached.
//
// fetch runs detached from ctx cancellation; a caller whose ctx ends stops
// waiting but the shared fetch completes for the others.
func GetCachedData[T any](ctx context.Context, c *Cache, key string, fetch FetchFunc[T], opts Options) (T, error) {
	var zero T
	fullKey := FullKey(key, opts.Prefix)

	if !opts.SkipStore {
		if value, ok := store.Get[T](ctx, c.kv, fullKey); ok {
			CacheHits.WithLabelValues("redis").Inc()
			c.logger.Debug().Str("key", fullKey).Msg("Cache hit")
			return value, nil
		}
		CacheMisses.Inc()
		c.logger.Debug().Str("key", fullKey).Msg("Cache miss")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	// Flights that skip the store must not satisfy callers expecting a
	// write-through.
	flightKey := fullKey
	if opts.SkipStore {
		flightKey = "skip-store\x00" + fullKey
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(flightKey, func() (any, error) {
		return c.load(fetchCtx, fullKey, ttl, opts.SkipStore, func(ctx context.Context) (any, error) {
			return fetch(ctx)
		})
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			CacheHits.WithLabelValues("inflight").Inc()
		}
		if res.Val == nil {
			return zero, nil
		}
		value, ok := res.Val.(T)
		if !ok {
			CacheErrors.WithLabelValues("type").Inc()
			return zero, fmt.Errorf("%w: key %q holds %T, want %T", ErrTypeMismatch, fullKey, res.Val, zero)
		}
		return value, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// load runs the shared fetch and the write-through for one flight.
func (c *Cache) load(ctx context.Context, fullKey string, ttl time.Duration, skipStore bool, fetch func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			CacheErrors.WithLabelValues("fetch").Inc()
			err = fmt.Errorf("%w: key %q: %v", ErrFetchPanic, fullKey, r)
		}
	}()

	start := time.Now()
	value, err = fetch(ctx)
	FetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		CacheErrors.WithLabelValues("fetch").Inc()
		c.logger.Warn().Str("key", fullKey).Err(err).Msg("Cache fetch failed")
		return nil, err
	}

	if skipStore {
		return value, nil
	}

	if c.kv.Set(ctx, fullKey, value, ttl) {
		c.logger.Debug().Str("key", fullKey).Dur("ttl", ttl).Msg("Cache set")
	} else {
		CacheErrors.WithLabelValues("set").Inc()
		c.logger.Warn().Str("key", fullKey).Msg("Cache write-through failed, serving fetched value")
	}
	return value, nil
}

// Invalidate deletes one entry from the remote store. In-flight fetches are
// not affected.
func (c *Cache) Invalidate(ctx context.Context, key, prefix string) bool {
	fullKey := FullKey(key, prefix)
	deleted := c.kv.Del(ctx, fullKey) > 0

	c.logger.Debug().Str("key", fullKey).Bool("deleted", deleted).Msg("Cache invalidated")
	return deleted
}

// InvalidateMultiple deletes several entries sharing prefix and returns how
// many existed.
func (c *Cache) InvalidateMultiple(ctx context.Context, keys []string, prefix string) int64 {
	if len(keys) == 0 {
		return 0
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = FullKey(key, prefix)
	}
	deleted := c.kv.Del(ctx, fullKeys...)

	c.logger.Debug().Int("keys", len(keys)).Int64("deleted", deleted).Msg("Cache entries invalidated")
	return deleted
}
