package policy

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics implements Metrics by incrementing counters on a
// prometheus.Registerer, the runtime counterpart of the teacher's xDS
// stats-sink wiring (every kgateway extension reports through
// client_golang rather than hand-rolled counters).
type PrometheusMetrics struct {
	mirrorFailures *prometheus.CounterVec
	rateLimited    *prometheus.CounterVec
}

// NewPrometheusMetrics registers its counters against reg and returns a
// Metrics implementation backed by them. Pass prometheus.DefaultRegisterer
// for the common case of one process-wide registry.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		mirrorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgatewayd",
			Name:      "mirror_failures_total",
			Help:      "Requests where the mirror tee failed to reach its backend.",
		}, []string{"route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgatewayd",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by a rate-limit policy.",
		}, []string{"route", "reason"}),
	}
	reg.MustRegister(m.mirrorFailures, m.rateLimited)
	return m
}

func (m *PrometheusMetrics) IncMirrorFailures(routeName string) {
	m.mirrorFailures.WithLabelValues(routeName).Inc()
}

func (m *PrometheusMetrics) IncRateLimited(routeName, reason string) {
	m.rateLimited.WithLabelValues(routeName, reason).Inc()
}
