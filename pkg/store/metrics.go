package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreEvents tracks connection lifecycle events.
	StoreEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_store_events_total",
			Help: "Total number of store connection lifecycle events",
		},
		[]string{"event"}, // "connect", "ready", "reconnecting", "error", "closed"
	)

	// StoreErrors tracks accessor failures converted into safe defaults.
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitecache_store_errors_total",
			Help: "Total number of store accessor errors",
		},
		[]string{"operation", "class"},
	)

	// ConnectAttempts reports how many handshakes the last connect cycle used.
	ConnectAttempts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sitecache_store_connect_attempts",
			Help: "Handshake attempts used by the last store connect cycle",
		},
	)
)
