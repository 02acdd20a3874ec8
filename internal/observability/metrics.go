package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Lease acquisition outcomes.
const (
	LeaseOutcomeAcquired   = "acquired"
	LeaseOutcomeContended  = "contended"
	LeaseOutcomeNotPending = "not_pending"
	LeaseOutcomeNotFound   = "not_found"
	LeaseOutcomeError      = "error"
)

// Face match call outcomes.
const (
	FaceMatchOutcomeMatch        = "match"
	FaceMatchOutcomeNoMatch      = "no_match"
	FaceMatchOutcomeTimeout      = "timeout"
	FaceMatchOutcomeUnavailable  = "unavailable"
	FaceMatchOutcomeInvalidInput = "invalid_input"
)

// Metrics exposes Prometheus collectors for the verification pipeline.
type Metrics struct {
	registry prometheus.Gatherer

	leaseOutcomes    *prometheus.CounterVec
	faceMatchLatency prometheus.Histogram
	faceMatchTotal   *prometheus.CounterVec
	terminalStatuses *prometheus.CounterVec
	indexFailures    prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpErrors       *prometheus.CounterVec
}

// NewMetrics registers collectors on the given registry. A nil registry uses a
// fresh one, which keeps tests isolated from the default registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		leaseOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_lease_acquisitions_total",
			Help: "Lease acquisition attempts by outcome.",
		}, []string{"outcome"}),
		faceMatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "verification_face_match_duration_seconds",
			Help:    "Latency of external face match calls.",
			Buckets: prometheus.DefBuckets,
		}),
		faceMatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_face_match_total",
			Help: "Face match calls by outcome.",
		}, []string{"outcome"}),
		terminalStatuses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_terminal_status_total",
			Help: "Committed terminal submission statuses.",
		}, []string{"status"}),
		indexFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "verification_index_failures_total",
			Help: "Best-effort search indexing failures.",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by path, method and status.",
		}, []string{"path", "method", "status"}),
		httpErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "HTTP errors by path, method and error code.",
		}, []string{"path", "method", "code"}),
	}
}

// RecordLeaseOutcome counts one lease acquisition attempt.
func (m *Metrics) RecordLeaseOutcome(outcome string) {
	if m == nil {
		return
	}
	m.leaseOutcomes.WithLabelValues(outcome).Inc()
}

// RecordFaceMatch counts one face match call and observes its latency.
func (m *Metrics) RecordFaceMatch(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.faceMatchTotal.WithLabelValues(outcome).Inc()
	m.faceMatchLatency.Observe(duration.Seconds())
}

// RecordTerminalStatus counts one committed terminal status.
func (m *Metrics) RecordTerminalStatus(status string) {
	if m == nil {
		return
	}
	m.terminalStatuses.WithLabelValues(status).Inc()
}

// RecordIndexFailure counts one swallowed indexing failure.
func (m *Metrics) RecordIndexFailure() {
	if m == nil {
		return
	}
	m.indexFailures.Inc()
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(path, method, code).Inc()
}

// Handler returns the Prometheus scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
