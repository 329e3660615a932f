package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/authframe/authframe/dispatch"
	"github.com/authframe/authframe/transaction"
)

// Metrics holds the counters and histograms the core registers against a
// prometheus.Registerer, grounded on the teacher's server/server.go
// PrometheusRegistry wiring (requestCounter/durationHist there), but
// keyed by endpoint kind and dispatch Outcome rather than HTTP
// method/status, since this core's unit of work is a Transaction, not
// an http.Handler invocation.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics constructs and registers the core's metrics against reg. A
// nil reg is valid and yields a Metrics that silently no-ops (matching
// the teacher's "metrics only wired when PrometheusRegistry != nil"
// posture).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authframe_endpoint_requests_total",
			Help: "Count of processed endpoint transactions by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authframe_endpoint_duration_seconds",
			Help:    "A histogram of endpoint processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"endpoint", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}
	return m
}

func outcomeLabel(o dispatch.Outcome) string {
	switch o {
	case dispatch.OutcomeHandled:
		return "handled"
	case dispatch.OutcomeSkipped:
		return "skipped"
	case dispatch.OutcomeRejected:
		return "rejected"
	default:
		return "continue"
	}
}

// Instrument wraps an Endpoint's Process call with request-count and
// latency observations, labeled by the transaction's EndpointKind.
func (m *Metrics) Instrument(e *Endpoint, now func() time.Time) func(ctx context.Context, tx *transaction.Transaction) dispatch.Outcome {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, tx *transaction.Transaction) dispatch.Outcome {
		start := now()
		outcome := e.Process(ctx, tx)
		if m == nil {
			return outcome
		}
		label := outcomeLabel(outcome)
		endpoint := tx.Endpoint.String()
		m.requests.WithLabelValues(endpoint, label).Inc()
		m.duration.WithLabelValues(endpoint, label).Observe(now().Sub(start).Seconds())
		return outcome
	}
}
