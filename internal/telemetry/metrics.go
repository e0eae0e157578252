package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "afribourse"

var (
	QuizAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quiz",
		Name:      "attempts_total",
		Help:      "Graded quiz attempts by outcome.",
	}, []string{"outcome"})

	QuizRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "quiz",
		Name:      "rejected_total",
		Help:      "Quiz starts and submissions refused by policy or validation, by reason.",
	}, []string{"reason"})

	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "orders_total",
		Help:      "Orders by side and outcome.",
	}, []string{"side", "outcome"})

	XPAwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "xp",
		Name:      "awarded_total",
		Help:      "Experience points awarded by reason.",
	}, []string{"reason"})

	EventFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "event",
		Name:      "handler_failures_total",
		Help:      "Event handlers that returned an error or panicked, by event.",
	}, []string{"event"})
)

// Outcome labels a counter with "ok" or the error reason.
func Outcome(reason string) string {
	if reason == "" {
		return "ok"
	}
	return reason
}
