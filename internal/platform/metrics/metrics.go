// Package metrics exposes Prometheus collectors for HTTP traffic and the case
// workflow. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "phcwatch"

// Metrics holds every collector registered by the server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	httpInFlight  prometheus.Gauge
	scores        *prometheus.CounterVec
	partialScores prometheus.Counter
	transitions   *prometheus.CounterVec
	emergencies   prometheus.Counter
	queueDepth    prometheus.Gauge
	notifyErrors  prometheus.Counter
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		httpInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),
		scores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news2_scores_total",
			Help:      "NEWS2 scores computed, by risk level",
		}, []string{"risk_level"}),
		partialScores: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "news2_partial_scores_total",
			Help:      "NEWS2 scores computed with at least one missing parameter",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "case_transitions_total",
			Help:      "Case workflow transitions",
		}, []string{"action", "from_status", "to_status"}),
		emergencies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emergency_flags_total",
			Help:      "Cases flagged as emergencies",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "review_queue_depth",
			Help:      "Cases waiting for PHC review when the queue was last built",
		}),
		notifyErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Notifications that could not be delivered",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts, durations, and in-flight requests.
// Routes are labelled with echo's path template to bound cardinality.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpInFlight.Inc()
			defer m.httpInFlight.Dec()

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// RecordScore counts one computed score.
func (m *Metrics) RecordScore(riskLevel string, partial bool) {
	if m == nil {
		return
	}
	if riskLevel == "" {
		riskLevel = "unclassified"
	}
	m.scores.WithLabelValues(riskLevel).Inc()
	if partial {
		m.partialScores.Inc()
	}
}

// RecordTransition counts one workflow transition.
func (m *Metrics) RecordTransition(action, from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(action, from, to).Inc()
}

// RecordEmergency counts one case flagged as an emergency.
func (m *Metrics) RecordEmergency() {
	if m == nil {
		return
	}
	m.emergencies.Inc()
}

// SetQueueDepth records the size of the review queue.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// RecordNotifyFailure counts one failed notification.
func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.notifyErrors.Inc()
}
