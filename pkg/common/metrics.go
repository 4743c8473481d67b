package common

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics every component's HTTP server exports.
type Metrics struct {
	RequestsTotal  *prometheus.CounterVec
	RequestLatency prometheus.Histogram
	ComponentReady prometheus.Gauge
}

// NewMetrics registers the server metrics for component with reg.
func NewMetrics(reg prometheus.Registerer, component string) *Metrics {
	labels := prometheus.Labels{"component": component}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "gcperfsim_http_requests_total",
			Help:        "Total number of HTTP requests served",
			ConstLabels: labels,
		}, []string{"code"}),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "gcperfsim_http_request_latency_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		ComponentReady: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "gcperfsim_component_ready",
			Help:        "Whether the component is ready (1) or not (0)",
			ConstLabels: labels,
		}),
	}
}

// SetReady marks the component as ready.
func (m *Metrics) SetReady() {
	m.ComponentReady.Set(1)
}

// SetNotReady marks the component as not ready.
func (m *Metrics) SetNotReady() {
	m.ComponentReady.Set(0)
}

// middleware counts requests and observes their latency.
func (m *Metrics) middleware(c *gin.Context) {
	start := time.Now()
	c.Next()
	m.RequestLatency.Observe(time.Since(start).Seconds())
	m.RequestsTotal.WithLabelValues(strconv.Itoa(c.Writer.Status())).Inc()
}
