package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the API's prometheus registry. It also receives the query
// orchestrator's per-read events.
type Metrics struct {
	registry    *prometheus.Registry
	detailReads *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	listingTime *prometheus.HistogramVec
	submissions *prometheus.CounterVec
	replays     prometheus.Counter
}

func NewMetrics() *Metrics {
	reads := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustwork_detail_reads_total",
		Help: "Per-id read-only calls issued while building listings",
	}, []string{"entity"})

	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustwork_dropped_entities_total",
		Help: "Entities left out of a listing, by reason",
	}, []string{"entity", "reason"})

	listing := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustwork_listing_duration_seconds",
		Help:    "Time to assemble one listing",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"entity"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustwork_submissions_total",
		Help: "Transaction submissions by action and outcome",
	}, []string{"action", "outcome"})

	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trustwork_submission_replays_total",
		Help: "Submissions answered from the journal",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(reads, dropped, listing, submissions, replays)

	return &Metrics{
		registry:    r,
		detailReads: reads,
		dropped:     dropped,
		listingTime: listing,
		submissions: submissions,
		replays:     replays,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) DetailRead(entity string) {
	m.detailReads.WithLabelValues(entity).Inc()
}

func (m *Metrics) Dropped(entity, reason string) {
	m.dropped.WithLabelValues(entity, reason).Inc()
}

func (m *Metrics) ListingDone(entity string, elapsed time.Duration) {
	m.listingTime.WithLabelValues(entity).Observe(elapsed.Seconds())
}

func (m *Metrics) incSubmission(action, outcome string) {
	m.submissions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) incReplay() {
	m.replays.Inc()
}
