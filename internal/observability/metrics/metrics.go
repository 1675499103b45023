package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	wizardsStarted    prometheus.Counter
	stepTransitions   *prometheus.CounterVec
	conflictChecks    *prometheus.CounterVec
	paymentsConfirmed *prometheus.CounterVec
	backendLatency    *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		wizardsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "started_total",
			Help:      "Total booking wizards started",
		}),
		stepTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "transitions_total",
			Help:      "Total wizard step transitions",
		}, []string{"to", "status"}),
		conflictChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "wizard",
			Name:      "conflict_checks_total",
			Help:      "Total slot conflict checks",
		}, []string{"result"}),
		paymentsConfirmed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "payment",
			Name:      "confirmations_total",
			Help:      "Total payment confirmations received",
		}, []string{"status"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "backend",
			Name:      "request_seconds",
			Help:      "Latency of backend service calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.wizardsStarted, m.stepTransitions, m.conflictChecks, m.paymentsConfirmed, m.backendLatency)
	return m
}

func (m *BookingMetrics) ObserveWizardStarted() {
	if m == nil {
		return
	}
	m.wizardsStarted.Inc()
}

func (m *BookingMetrics) ObserveTransition(to, status string) {
	if m == nil {
		return
	}
	m.stepTransitions.WithLabelValues(to, status).Inc()
}

func (m *BookingMetrics) ObserveConflictCheck(result string) {
	if m == nil {
		return
	}
	m.conflictChecks.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObservePaymentConfirmation(status string) {
	if m == nil {
		return
	}
	m.paymentsConfirmed.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveBackendLatency(service string, seconds float64) {
	if m == nil {
		return
	}
	m.backendLatency.WithLabelValues(service).Observe(seconds)
}
