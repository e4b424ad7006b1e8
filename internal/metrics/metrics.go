// Package metrics exposes Prometheus collectors for submissions, remote calls
// and the HTTP surface. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "esign"

// Submission outcomes.
const (
	OutcomeSubmitted = "submitted"
	OutcomeFailed    = "failed"
	OutcomeDryRun    = "dry_run"
	OutcomeCancelled = "cancelled"
)

type Metrics struct {
	registry       *prometheus.Registry
	submissions    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	bulkInflight   prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so several instances can
// coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Task submissions by mode and outcome",
		}, []string{"mode", "outcome"}),
		remoteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Remote task service call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint", "status"}),
		bulkInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_inflight",
			Help:      "Bulk recipients currently being submitted",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status",
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) Submission(mode, outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(mode, outcome).Inc()
}

// ObserveRemote has the shape of net.Observer. Status 0 is a transport failure.
func (m *Metrics) ObserveRemote(endpoint string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.remoteDuration.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// BulkStarted and BulkFinished bracket one in-flight bulk recipient.
func (m *Metrics) BulkStarted() {
	if m == nil {
		return
	}
	m.bulkInflight.Inc()
}

func (m *Metrics) BulkFinished() {
	if m == nil {
		return
	}
	m.bulkInflight.Dec()
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
