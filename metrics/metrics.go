// Package metrics defines the Prometheus metrics exported by the crawler and API.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "flipr"

// Record outcomes.
const (
	OutcomeSunk          = "sunk"
	OutcomeDuplicate     = "duplicate"
	OutcomeNoCoordinates = "no_coordinates"
	OutcomeSinkFailed    = "sink_failed"
	OutcomeError         = "error"
)

// Metrics methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	PagesFetched   *prometheus.CounterVec
	PagesExhausted *prometheus.CounterVec
	FetchErrors    *prometheus.CounterVec
	Records        *prometheus.CounterVec
	RateLimitWait  *prometheus.HistogramVec
	SinkDuration   prometheus.Histogram
	WSClients      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all metrics with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Provider pages fetched with at least one record",
		}, []string{"source"}),
		PagesExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_exhausted_total",
			Help:      "Fetches that ended a source's pagination",
		}, []string{"source"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Fetches that failed after retries",
		}, []string{"source"}),
		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records processed by outcome",
		}, []string{"source", "outcome"}),
		RateLimitWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for rate limit admission",
			Buckets:   []float64{0.1, 1, 5, 15, 30, 60, 120},
		}, []string{"channel"}),
		SinkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_duration_seconds",
			Help:      "Latency of sink upserts",
			Buckets:   prometheus.DefBuckets,
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
		gatherer: reg,
	}
}

// Handler serves the registry this Metrics was created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) PageFetched(source string) {
	if m != nil {
		m.PagesFetched.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) PageExhausted(source string) {
	if m != nil {
		m.PagesExhausted.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) FetchFailed(source string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Record(source, outcome string) {
	if m != nil {
		m.Records.WithLabelValues(source, outcome).Inc()
	}
}

func (m *Metrics) Waited(channel string, d time.Duration) {
	if m != nil {
		m.RateLimitWait.WithLabelValues(channel).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveSink(d time.Duration) {
	if m != nil {
		m.SinkDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) ClientConnected() {
	if m != nil {
		m.WSClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.WSClients.Dec()
	}
}
