package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the relay's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	finality    prometheus.Histogram
	retries     prometheus.Counter
	resyncs     prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when reg
// is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vrm",
			Subsystem: "relay",
			Name:      "submissions_total",
			Help:      "Relayed transactions by operation and outcome.",
		}, []string{"op", "outcome"}),
		finality: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vrm",
			Subsystem: "relay",
			Name:      "finality_seconds",
			Help:      "Time from submission to a finalized result.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrm",
			Subsystem: "relay",
			Name:      "transport_retries_total",
			Help:      "Ledger calls repeated after a transport failure.",
		}),
		resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vrm",
			Subsystem: "relay",
			Name:      "nonce_resyncs_total",
			Help:      "Times the credential sequence number was reloaded from the ledger.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.submissions, m.finality, m.retries, m.resyncs)
	}
	return m
}

func (m *Metrics) observeOutcome(op string, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) observeFinality(d time.Duration) {
	if m == nil {
		return
	}
	m.finality.Observe(d.Seconds())
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) incResync() {
	if m == nil {
		return
	}
	m.resyncs.Inc()
}
