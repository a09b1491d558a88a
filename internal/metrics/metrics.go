package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coach_agenda"

var (
	once sync.Once

	admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_admissions_total",
			Help:      "Booking admission attempts by outcome.",
		},
		[]string{"outcome"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking status transitions by target status and outcome.",
		},
		[]string{"status", "outcome"},
	)

	indexLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_index_lookups_total",
			Help:      "Conflict index lookups by result.",
		},
		[]string{"result"},
	)

	indexCoaches = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conflict_index_coaches",
			Help:      "Coaches currently held in the conflict index.",
		},
	)

	resolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "availability_resolve_duration_seconds",
			Help:      "Time to resolve availability.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"operation"},
	)
)

// Исходы допуска записи
const (
	OutcomeAdmitted    = "admitted"
	OutcomeUnavailable = "unavailable"
	OutcomeConflict    = "conflict"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(admissions, transitions, indexLookups, indexCoaches, resolveDuration)
	})
}

func IncAdmission(outcome string) {
	admissions.WithLabelValues(outcome).Inc()
}

func IncTransition(status, outcome string) {
	transitions.WithLabelValues(status, outcome).Inc()
}

func IncIndexLookup(hit bool) {
	if hit {
		indexLookups.WithLabelValues("hit").Inc()
		return
	}
	indexLookups.WithLabelValues("miss").Inc()
}

func SetIndexCoaches(n int) {
	indexCoaches.Set(float64(n))
}

// ObserveResolve записывает длительность операции с момента start
func ObserveResolve(operation string, start time.Time) {
	resolveDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
