// Package cache provides the read-through request cache used by API handlers.
//
// The cache combines two layers with different scopes:
//
// - The remote store (Redis), shared by every process, holding JSON values
// under "prefix:key" with a TTL enforced by the store
// - An in-process flight map that collapses concurrent identical requests
// into one upstream fetch (golang.org/x/sync/singleflight)
//
// The flight map is consulted only after a remote miss and is never a
// substitute for the remote cache: it holds nothing once a fetch settles.
//
// # Basic Usage
//
//	c := cache.New(kv, logger)
//
//	key := cache.Key{Resource: "projects", Segments: []string{"active"}}
//	projects, err := cache.GetCachedData(ctx, c, key.String(),
//		func(ctx context.Context) ([]Project, error) {
//			return repo.ActiveProjects(ctx)
//		},
//		cache.Options{TTL: time.Minute, Prefix: cache.APIPrefix},
//	)
//
// # Failure Behavior
//
// The store is treated as possibly absent. A failed remote read is a miss, a
// failed write-through is logged, and in both cases the fetched value is
// returned. Only errors from fetch itself reach the caller.
//
// # Invalidation
//
//	c.Invalidate(ctx, "projects:active", cache.APIPrefix)
//	c.InvalidateMultiple(ctx, []string{"projects:active", "projects:all"}, cache.APIPrefix)
//
// Bulk invalidation by namespace lives in package invalidate.
//
// # Metrics
//
//   - sitecache_cache_hits_total{layer="redis"|"inflight"} - Cache hits
//   - sitecache_cache_misses_total - Remote cache misses
//   - sitecache_cache_fetch_duration_seconds - Upstream fetch latency
//   - sitecache_cache_errors_total{operation} - Fetch, write-through and type errors
package cache
