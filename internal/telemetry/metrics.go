package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	chatRequests    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	chatMutations   *prometheus.CounterVec
	reports         prometheus.Counter
}

// NewMetrics registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		chatRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_chat_requests_total",
			Help: "Chat requests by model and outcome.",
		}, []string{"model", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_provider_latency_seconds",
			Help:    "Latency of upstream model calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"model"}),
		chatMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_store_mutations_total",
			Help: "Chat store writes by operation.",
		}, []string{"op"}),
		reports: factory.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_error_reports_total",
			Help: "Errors reported to the alert sink.",
		}),
	}
}

// ObserveChat records one gateway request.
func (m *Metrics) ObserveChat(model, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.chatRequests.WithLabelValues(model, outcome).Inc()
	if latency > 0 {
		m.providerLatency.WithLabelValues(model).Observe(latency.Seconds())
	}
}

// ObserveMutation records one chat store write.
func (m *Metrics) ObserveMutation(op string) {
	if m == nil {
		return
	}
	m.chatMutations.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CountingSink wraps a Sink and counts every report.
type CountingSink struct {
	Sink
	metrics *Metrics
}

// Counted returns sink wrapped so that reports are counted in m.
func Counted(sink Sink, m *Metrics) *CountingSink {
	return &CountingSink{Sink: sink, metrics: m}
}

// Report implements Sink.
func (c *CountingSink) Report(message string) {
	if c.metrics != nil {
		c.metrics.reports.Inc()
	}
	c.Sink.Report(message)
}
