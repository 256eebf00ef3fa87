// Package metrics exposes Prometheus instrumentation for the tokenizer
// service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item status labels.
const (
	StatusOK        = "ok"
	StatusMalformed = "malformed_url"
	StatusFault     = "internal_engine_fault"
	StatusCanceled  = "canceled"
)

// Metrics holds the service collectors and the private registry they are
// registered with.
type Metrics struct {
	batchesTotal  prometheus.Counter
	batchSize     prometheus.Histogram
	batchDuration prometheus.Histogram
	itemsTotal    *prometheus.CounterVec
	tokensTotal   prometheus.Counter

	codecErrors *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urltok_batches_total",
			Help: "Total number of tokenization batches processed",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "urltok_batch_size",
			Help:    "Number of URLs per batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "urltok_batch_duration_seconds",
			Help:    "Batch tokenization latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		itemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urltok_items_total",
				Help: "Total number of URLs processed by outcome",
			},
			[]string{"status"},
		),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "urltok_tokens_total",
			Help: "Total number of tokens emitted",
		}),
		codecErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urltok_codec_errors_total",
				Help: "Total number of rejected transport frames by reason",
			},
			[]string{"reason"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "urltok_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "urltok_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.batchesTotal,
		m.batchSize,
		m.batchDuration,
		m.itemsTotal,
		m.tokensTotal,
		m.codecErrors,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveBatch records one completed batch.
func (m *Metrics) ObserveBatch(size int, d time.Duration) {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
	m.batchSize.Observe(float64(size))
	m.batchDuration.Observe(d.Seconds())
}

// ObserveItem records the outcome of one URL and the tokens it produced.
func (m *Metrics) ObserveItem(status string, tokens int) {
	if m == nil {
		return
	}
	m.itemsTotal.WithLabelValues(status).Inc()
	if tokens > 0 {
		m.tokensTotal.Add(float64(tokens))
	}
}

// CodecError records a rejected frame.
func (m *Metrics) CodecError(reason string) {
	if m == nil {
		return
	}
	m.codecErrors.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one served HTTP request.
func (m *Metrics) ObserveHTTP(path, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(path, method).Observe(d.Seconds())
}

// Registry returns the registry the collectors are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
