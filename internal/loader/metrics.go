package loader

import (
	"github.com/kevinhust/CAA900-sub003/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for bulk fetches. One instance is shared
// by every request's loader.
type Metrics struct {
	batchSize *prometheus.HistogramVec
	fetches   *prometheus.CounterVec
}

// NewMetrics creates the loader metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		batchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobquest",
			Subsystem: "loader",
			Name:      "batch_size",
			Help:      "Number of distinct keys per bulk fetch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"entity"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "loader",
			Name:      "bulk_fetches_total",
			Help:      "Total number of bulk fetches issued to the store",
		}, []string{"entity", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.batchSize, m.fetches} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(entity store.Entity, size int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.batchSize.WithLabelValues(string(entity)).Observe(float64(size))
	m.fetches.WithLabelValues(string(entity), outcome).Inc()
}
