package execution

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vektah/gqlparser/v2/ast"
)

// Metrics holds Prometheus metrics for executed requests.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the request metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobquest",
			Subsystem: "graphql",
			Name:      "requests_total",
			Help:      "Total number of GraphQL requests by operation type and outcome",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobquest",
			Subsystem: "graphql",
			Name:      "request_duration_seconds",
			Help:      "GraphQL request latency by operation type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithMetrics records every request's outcome and latency.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// operationLabel keeps the label set bounded: requests that never got past
// validation are "invalid".
func operationLabel(op *operation) string {
	if op == nil {
		return "invalid"
	}
	if op.op.Operation == ast.Mutation {
		return "mutation"
	}
	return "query"
}

func (m *Metrics) observe(operation string, failed bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
