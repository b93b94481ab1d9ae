package votes

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors of the vote ledger. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	lockWait  prometheus.Histogram
	transient *prometheus.CounterVec
	rerank    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "votes",
			Name:      "outcomes_total",
			Help:      "Vote requests by item type and outcome status.",
		}, []string{"item_type", "status"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "votes",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for an item lock.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		transient: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "votes",
			Name:      "transient_failures_total",
			Help:      "Vote requests that failed with a retryable error, by operation.",
		}, []string{"op"}),
		rerank: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "votes",
			Name:      "rerank_failures_total",
			Help:      "Submission rank recomputations that failed after a committed vote.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.outcomes, m.lockWait, m.transient, m.rerank)
	}

	return m
}

func (m *Metrics) observeOutcome(t ItemType, o *Outcome) {
	if m == nil || o == nil {
		return
	}
	m.outcomes.WithLabelValues(t.String(), o.Status.String()).Inc()
}

func (m *Metrics) observeLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}

func (m *Metrics) observeTransient(op string) {
	if m == nil {
		return
	}
	m.transient.WithLabelValues(op).Inc()
}

func (m *Metrics) observeRerankFailure() {
	if m == nil {
		return
	}
	m.rerank.Inc()
}
