package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks request cache hits by layer
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_cache_hits_total",
			Help: "Total number of request cache hits",
		},
		[]string{"layer"}, // "redis", "inflight"
	)

	// CacheMisses tracks remote cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sitecache_cache_misses_total",
			Help: "Total number of request cache misses",
		},
	)

	// FetchDuration tracks upstream fetch latency on misses
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitecache_cache_fetch_duration_seconds",
			Help:    "Duration of upstream fetches triggered by cache misses",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
	)

	// CacheErrors tracks request cache errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_cache_errors_total",
			Help: "Total number of request cache errors",
		},
		[]string{"operation"}, // "fetch", "set", "type"
	)
)
