package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for cache operations.
type Metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	sets          prometheus.Counter
	errors        prometheus.Counter
	invalidations prometheus.Counter
	evictions     prometheus.Counter
}

// NewMetrics creates the cache metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of cache hits",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of cache misses",
		}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Total number of cache set operations",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "backend_errors_total",
			Help:      "Total number of failed backend calls",
		}),
		invalidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "invalidated_entries_total",
			Help:      "Total number of entries removed by pattern invalidation",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted to respect the size bound",
		}),
	}

	for _, c := range []prometheus.Collector{m.hits, m.misses, m.sets, m.errors, m.invalidations, m.evictions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordEviction is suitable as a MemoryBackend eviction hook.
func (m *Metrics) RecordEviction(string) {
	if m != nil {
		m.evictions.Inc()
	}
}

func (m *Metrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) recordSet() {
	if m != nil {
		m.sets.Inc()
	}
}

func (m *Metrics) recordError() {
	if m != nil {
		m.errors.Inc()
	}
}

func (m *Metrics) recordInvalidated(n int) {
	if m != nil {
		m.invalidations.Add(float64(n))
	}
}
