package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage workflow.
type Metrics struct {
	SubmitsTotal   *prometheus.CounterVec
	TriagesTotal   *prometheus.CounterVec
	TriageDuration *prometheus.HistogramVec
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
		TriagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triages_total",
			Help: "Total triage runs by terminal outcome.",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.SubmitsTotal,
		m.TriagesTotal,
		m.TriageDuration,
	)

	return m
}
