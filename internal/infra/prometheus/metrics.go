package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "templogin"

// Metrics implements the service metrics hooks with Prometheus collectors.
type Metrics struct {
	presentations     *prometheus.CounterVec
	linksIssued       prometheus.Counter
	linksSwept        prometheus.Counter
	accessLogFailures prometheus.Counter
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		presentations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presentations_total",
			Help:      "Token presentations by outcome and denial reason.",
		}, []string{"outcome", "reason"}),
		linksIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_issued_total",
			Help:      "Login links issued.",
		}),
		linksSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_swept_total",
			Help:      "Expired or exhausted links found by the sweep.",
		}),
		accessLogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_log_failures_total",
			Help:      "Access log writes that failed after the access decision was committed.",
		}),
	}
	reg.MustRegister(m.presentations, m.linksIssued, m.linksSwept, m.accessLogFailures)
	return m
}

func (m *Metrics) Presentation(outcome, reason string) {
	m.presentations.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) LinkIssued() {
	m.linksIssued.Inc()
}

func (m *Metrics) LinksSwept(n int) {
	m.linksSwept.Add(float64(n))
}

func (m *Metrics) AccessLogFailure() {
	m.accessLogFailures.Inc()
}
