package metrics

import (
	"net/http"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldservice_scheduler"

// Metrics holds the Prometheus collectors of the availability engine and the
// booking workflow.
type Metrics struct {
	registry *prometheus.Registry

	policyFallbacks *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	workerFailures  prometheus.Counter
	slotsReturned   prometheus.Histogram
	slotDuration    *prometheus.HistogramVec
	bookings        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		policyFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_fallbacks_total",
			Help:      "Scheduling policy reads that fell back to defaults.",
		}, []string{"reason"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Busy interval source queries that failed or timed out.",
		}, []string{"source"}),
		workerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_failures_total",
			Help:      "Workers whose slot search failed inside a suggestion request.",
		}),
		slotsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slots_returned",
			Help:      "Number of slots returned per worker search.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		slotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "slot_search_duration_seconds",
			Help:      "Time spent computing slots for one worker.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"degraded"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking workflow outcomes.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.policyFallbacks,
		m.sourceFailures,
		m.workerFailures,
		m.slotsReturned,
		m.slotDuration,
		m.bookings,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) PolicyFallback(reason string) {
	m.policyFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) SourceFailure(source model.SourceKind) {
	m.sourceFailures.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) SlotsComputed(count int, degraded bool, elapsed time.Duration) {
	m.slotsReturned.Observe(float64(count))
	label := "false"
	if degraded {
		label = "true"
	}
	m.slotDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) WorkerFailure() {
	m.workerFailures.Inc()
}

// Booking counts a booking workflow outcome such as "confirmed",
// "pending_approval", "slot_taken" or "failed".
func (m *Metrics) Booking(outcome string) {
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
