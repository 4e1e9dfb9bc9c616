package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutcomeSuccess labels a successful attempt; failures use the error kind name
const OutcomeSuccess = "success"

var (
	once sync.Once

	// AttemptsTotal counts finished identification attempts by outcome.
	AttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insectid",
		Subsystem: "analysis",
		Name:      "attempts_total",
		Help:      "Total number of identification attempts that reached a terminal state, labeled by outcome.",
	}, []string{"outcome"})

	// AttemptDurationSeconds is the time from Loading to the terminal state.
	AttemptDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "insectid",
		Subsystem: "analysis",
		Name:      "attempt_duration_seconds",
		Help:      "Time from the start of an identification attempt to its terminal state.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"outcome"})

	// CapturesTotal counts camera captures by result.
	CapturesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "insectid",
		Subsystem: "capture",
		Name:      "captures_total",
		Help:      "Total number of camera captures, labeled by result.",
	}, []string{"result"})

	// RecordsStored is the size of the collection.
	RecordsStored = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "insectid",
		Subsystem: "store",
		Name:      "records",
		Help:      "Number of records in the collection.",
	})

	PersistErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "insectid",
		Subsystem: "store",
		Name:      "persist_errors_total",
		Help:      "Total number of failed collection writes.",
	})
)

// Register registers the metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			AttemptsTotal,
			AttemptDurationSeconds,
			CapturesTotal,
			RecordsStored,
			PersistErrorsTotal,
		)
	})
}

// ObserveAttempt records one finished attempt
func ObserveAttempt(outcome string, d time.Duration) {
	AttemptsTotal.WithLabelValues(outcome).Inc()
	AttemptDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveCapture records one capture
func ObserveCapture(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CapturesTotal.WithLabelValues(result).Inc()
}
