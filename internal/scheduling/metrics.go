package scheduling

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters/histograms for booking flows.
type Metrics struct {
	bookingsTotal  *prometheus.CounterVec
	bumpsTotal     *prometheus.CounterVec
	bookingLatency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Booking attempts by urgency and outcome",
		}, []string{"urgency", "outcome"}),
		bumpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinicdesk",
			Subsystem: "scheduling",
			Name:      "bumps_total",
			Help:      "Emergency displacement attempts by outcome",
		}, []string{"outcome"}),
		bookingLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinicdesk",
			Subsystem: "scheduling",
			Name:      "booking_latency_seconds",
			Help:      "Latency of booking transactions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"urgency"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookingsTotal, m.bumpsTotal, m.bookingLatency)
	return m
}

func (m *Metrics) ObserveBooking(urgency Urgency, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(string(urgency), outcome).Inc()
	m.bookingLatency.WithLabelValues(string(urgency)).Observe(seconds)
}

func (m *Metrics) ObserveBump(outcome string) {
	if m == nil {
		return
	}
	m.bumpsTotal.WithLabelValues(outcome).Inc()
}
