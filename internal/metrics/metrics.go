package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the RED counters of the checkout workflow. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	usecaseRequests *prometheus.CounterVec
	usecaseDuration *prometheus.HistogramVec
	gatewayRequests *prometheus.CounterVec
	reservations    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		usecaseRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usecase_requests_total",
			Help: "Total number of use case invocations.",
		}, []string{"use_case", "outcome"}),
		usecaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usecase_duration_seconds",
			Help:    "Duration of use case execution in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Payment gateway calls by operation and outcome.",
		}, []string{"operation", "outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_reservations_total",
			Help: "Inventory reservation attempts by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.usecaseRequests, m.usecaseDuration, m.gatewayRequests, m.reservations)
	}
	return m
}

func (m *Metrics) UseCase(useCase, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.usecaseRequests.WithLabelValues(useCase, outcome).Inc()
	m.usecaseDuration.WithLabelValues(useCase).Observe(elapsed.Seconds())
}

func (m *Metrics) Gateway(operation, outcome string) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}
