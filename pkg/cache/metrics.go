package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks store hits by layer (redis, sqlite, memory)
	StoreHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rest_cache_store_hits_total",
			Help: "Total number of store hits",
		},
		[]string{"layer"},
	)

	// StoreMisses tracks absent or expired keys by layer
	StoreMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rest_cache_store_misses_total",
			Help: "Total number of store misses",
		},
		[]string{"layer"},
	)

	// StoreErrors tracks store operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rest_cache_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"layer", "operation"}, // "get", "set", "delete"
	)

	// StoreWrittenBytes tracks the volume written to each layer
	StoreWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rest_cache_store_written_bytes_total",
			Help: "Total number of bytes written to the store",
		},
		[]string{"layer"},
	)
)

const (
	layerRedis  = "redis"
	layerSQLite = "sqlite"
	layerMemory = "memory"
)
