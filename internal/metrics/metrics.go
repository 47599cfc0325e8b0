package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentledger",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentledger",
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status.",
		},
		[]string{"to_status"},
	)

	paymentsSettled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rentledger",
			Name:      "payments_settled_total",
			Help:      "Payments leaving HELD, by outcome.",
		},
		[]string{"outcome"},
	)

	conflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rentledger",
			Name:      "transition_conflicts_total",
			Help:      "Transitions lost to a concurrent writer.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, paymentsSettled, conflicts)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition counts a committed status transition.
func IncTransition(toStatus string) {
	transitions.WithLabelValues(toStatus).Inc()
}

// IncPaymentSettled counts a payment reaching RELEASED or FORFEITED.
func IncPaymentSettled(outcome string) {
	paymentsSettled.WithLabelValues(outcome).Inc()
}

// IncConflict counts a lost CAS race.
func IncConflict() {
	conflicts.Inc()
}
