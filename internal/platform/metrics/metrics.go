package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the registrar.
type Metrics struct {
	Verifications *prometheus.CounterVec
	PollTicks     *prometheus.CounterVec
	AdapterErrors *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_verifications_total",
			Help: "Verification outcomes judged by the engine",
		}, []string{"channel", "result"}),
		PollTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_adapter_poll_ticks_total",
			Help: "Adapter polling ticks, by outcome",
		}, []string{"channel", "outcome"}),
		AdapterErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_adapter_errors_total",
			Help: "Recoverable adapter errors",
		}, []string{"channel"}),
	}
}

// ObserveVerification counts one judged outcome.
func (m *Metrics) ObserveVerification(channel string, valid bool) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.Verifications.WithLabelValues(channel, result).Inc()
}

// ObservePollTick counts one adapter tick.
func (m *Metrics) ObservePollTick(channel string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.AdapterErrors.WithLabelValues(channel).Inc()
	}
	m.PollTicks.WithLabelValues(channel, outcome).Inc()
}
