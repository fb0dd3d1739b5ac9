package invalidate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheKeys reports key counts per namespace from the last Statistics call
	CacheKeys = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitecache_cache_keys",
			Help: "Number of store keys per namespace at the last statistics run",
		},
		[]string{"namespace"}, // "api", "api:<group>", "rate-limit", "session:<type>"
	)

	// InvalidatedKeys tracks keys removed by bulk invalidation
	InvalidatedKeys = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_invalidated_keys_total",
			Help: "Total number of keys deleted by invalidation",
		},
		[]string{"group"},
	)
)
