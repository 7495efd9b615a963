package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the booking engine.
type EngineMetrics struct {
	bookingsTotal  *prometheus.CounterVec
	webhookTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	sweepCancelled prometheus.Counter
	refundsTotal   *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "booking",
			Name:      "requests_total",
			Help:      "Total booking attempts by result",
		}, []string{"result"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total payment webhook events by type and outcome",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "carebook",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		sweepCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "sweep",
			Name:      "cancelled_total",
			Help:      "Total appointments cancelled by the auto-cancellation sweep",
		}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "carebook",
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Total refund attempts by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.webhookTotal, m.webhookLatency, m.sweepCancelled, m.refundsTotal)
	return m
}

func (m *EngineMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveWebhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, outcome).Inc()
}

func (m *EngineMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *EngineMetrics) AddSweepCancelled(n int) {
	if m == nil {
		return
	}
	m.sweepCancelled.Add(float64(n))
}

func (m *EngineMetrics) ObserveRefund(outcome string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(outcome).Inc()
}
