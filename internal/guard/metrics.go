package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set labels for EvictionsTotal.
const (
	SetSelected   = "selected"
	SetExpanded   = "expanded"
	SetChunkCache = "chunk_cache"
)

var (
	// SweepsTotal counts completed sweeps.
	// Labels: trigger (interval, before_build, after_build, manual)
	SweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxpack",
			Subsystem: "guard",
			Name:      "sweeps_total",
			Help:      "Total number of memory guard sweeps",
		},
		[]string{"trigger"},
	)

	// EvictionsTotal counts entries evicted by sweeps.
	// Labels: set (selected, expanded, chunk_cache)
	EvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ctxpack",
			Subsystem: "guard",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted by the memory guard",
		},
		[]string{"set"},
	)

	// HeapBytes is the live heap observed by the last sweep.
	HeapBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ctxpack",
			Subsystem: "guard",
			Name:      "heap_bytes",
			Help:      "Live heap bytes observed at the last sweep",
		},
	)
)
