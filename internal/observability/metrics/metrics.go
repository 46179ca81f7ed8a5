package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PoE-Chain/internal/claim"
	xerrors "PoE-Chain/internal/errors"
)

const namespace = "poe"

// Metrics holds the Prometheus collectors used by the daemon.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	operations    *prometheus.CounterVec
	published     *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
}

// New registers collectors on a fresh registry, so tests can build several instances.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers collectors on reg and serves them from gatherer.
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: gatherer,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by handler, method and status code.",
		}, []string{"handler", "method", "code"}),
		httpLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by handler and method.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"handler", "method"}),
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_operations_total",
			Help:      "Claim registry operations by operation and outcome code.",
		}, []string{"operation", "outcome"}),
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Claim events handed to publishers by sink and result.",
		}, []string{"sink", "result"}),
		droppedEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Claim events dropped before publishing.",
		}, []string{"type"}),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveOperation implements claim.Observer.
func (m *Metrics) ObserveOperation(op claim.Operation, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(xerrors.CodeOf(err))
	}
	m.operations.WithLabelValues(string(op), outcome).Inc()
}

// ObservePublish records the result of one publisher call.
func (m *Metrics) ObservePublish(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.published.WithLabelValues(sink, result).Inc()
}

// ObserveDropped counts an event that never reached a publisher.
func (m *Metrics) ObserveDropped(eventType claim.EventType) {
	m.droppedEvents.WithLabelValues(string(eventType)).Inc()
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
