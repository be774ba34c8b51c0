package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the store's Prometheus collectors.
type Metrics struct {
	Lookups        *prometheus.CounterVec
	StoreErrors    *prometheus.CounterVec
	Generations    *prometheus.CounterVec
	Refreshes      *prometheus.CounterVec
	NegativeWrites prometheus.Counter
	LockTimeouts   prometheus.Counter
	LockWait       prometheus.Histogram
	BreakerState   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "narrative_cache_lookups_total",
			Help: "Store reads by result (hit, miss, stale).",
		}, []string{"result"}),
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "narrative_cache_store_errors_total",
			Help: "Failed store operations, including breaker rejections.",
		}, []string{"op"}),
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "narrative_cache_generations_total",
			Help: "Narrative generations by path.",
		}, []string{"path"}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "narrative_cache_refreshes_total",
			Help: "Background refreshes by outcome.",
		}, []string{"outcome"}),
		NegativeWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "narrative_cache_negative_writes_total",
			Help: "Negative entries written.",
		}),
		LockTimeouts: f.NewCounter(prometheus.CounterOpts{
			Name: "narrative_cache_lock_timeouts_total",
			Help: "Lock waits that gave up and generated directly.",
		}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "narrative_cache_lock_wait_seconds",
			Help:    "Time spent waiting on another generator.",
			Buckets: prometheus.DefBuckets,
		}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "narrative_cache_breaker_state",
			Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
	}
}
