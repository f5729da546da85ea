// Package metrics registers the Prometheus collectors the scheduling core
// publishes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	BookingsTotal     prometheus.Counter
	BookingRejections *prometheus.CounterVec // by pre-check reason
	RaceConflicts     prometheus.Counter     // store-level exclusion rejections
	SlotGenerations   prometheus.Counter
	ConversationTurns prometheus.Counter
}

// New registers all collectors against reg and returns the handle the
// services record into.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BookingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_commits_total",
			Help: "Appointments durably committed.",
		}),
		BookingRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_rejections_total",
			Help: "Booking attempts rejected by the advisory pre-check.",
		}, []string{"reason"}),
		RaceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_race_conflicts_total",
			Help: "Inserts rejected by the store exclusion constraint after the pre-check passed.",
		}),
		SlotGenerations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slot_generations_total",
			Help: "Availability computations served.",
		}),
		ConversationTurns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversation_turns_total",
			Help: "Inbound conversation turns processed.",
		}),
	}
	reg.MustRegister(m.BookingsTotal, m.BookingRejections, m.RaceConflicts, m.SlotGenerations, m.ConversationTurns)
	return m
}
