// Package metrics exposes edge metrics in Prometheus format.
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

const namespace = "signage_edge"

// LatencyBuckets covers fast control endpoints up to slow media proxying.
var LatencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Collector owns a private registry so tests and multiple servers in one
// process never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	upstreamUp       *prometheus.GaugeVec
	wsConnections    prometheus.Gauge
	deliveries       *prometheus.CounterVec
	logDelivered     prometheus.Counter
	logPruned        prometheus.Counter
	rateLimited      prometheus.Counter
	relayMessages    *prometheus.CounterVec
}

// NewCollector creates a collector with Go runtime and process metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests handled, by route, method and status",
		}, []string{"route", "method", "status"}),
		requestDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   LatencyBuckets,
		}, []string{"route"}),
		upstreamErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Failed upstream calls by service and reason",
		}, []string{"service", "reason"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open)",
		}, []string{"service"}),
		upstreamUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_up",
			Help:      "Result of the last health probe per service (1=up)",
		}, []string{"service"}),
		wsConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections",
		}),
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Addressed WebSocket deliveries by target and result",
		}, []string{"target", "result"}),
		logDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_records_delivered_total",
			Help:      "Log records delivered to subscribers",
		}),
		logPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "log_subscribers_pruned_total",
			Help:      "Dead log subscribers removed during broadcast",
		}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
		relayMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Cluster relay envelopes by direction and kind",
		}, []string{"direction", "kind"}),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ObserveRequest records a completed HTTP request.
func (c *Collector) ObserveRequest(route, method string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.requestDurations.WithLabelValues(route).Observe(duration.Seconds())
}

// UpstreamError records a failed upstream call.
func (c *Collector) UpstreamError(service, reason string) {
	c.upstreamErrors.WithLabelValues(service, reason).Inc()
}

// SetBreakerState records the breaker state of a service.
func (c *Collector) SetBreakerState(service string, state int) {
	c.breakerState.WithLabelValues(service).Set(float64(state))
}

// SetUpstreamUp records a health probe transition.
func (c *Collector) SetUpstreamUp(service string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	c.upstreamUp.WithLabelValues(service).Set(v)
}

// ConnectionOpened increments the open WebSocket gauge.
func (c *Collector) ConnectionOpened() { c.wsConnections.Inc() }

// ConnectionClosed decrements the open WebSocket gauge.
func (c *Collector) ConnectionClosed() { c.wsConnections.Dec() }

// ObserveDelivery records an addressed delivery outcome.
func (c *Collector) ObserveDelivery(target string, delivered bool) {
	result := "delivered"
	if !delivered {
		result = "unreachable"
	}
	c.deliveries.WithLabelValues(target, result).Inc()
}

// ObserveLogFanout records one log broadcast.
func (c *Collector) ObserveLogFanout(delivered, pruned int) {
	c.logDelivered.Add(float64(delivered))
	c.logPruned.Add(float64(pruned))
}

// RateLimited records a rejected request.
func (c *Collector) RateLimited(*http.Request) {
	c.rateLimited.Inc()
}

// RelayMessage records an envelope published ("out") or received ("in").
func (c *Collector) RelayMessage(direction, kind string) {
	c.relayMessages.WithLabelValues(direction, kind).Inc()
}

// RegisterConnectionCounts exposes registry and fan-out sizes as gauges read
// at scrape time.
func (c *Collector) RegisterConnectionCounts(counts func() (devices, players int), tenants func() int) {
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_devices",
		Help:      "Device ids currently mapped to a connection",
	}, func() float64 {
		d, _ := counts()
		return float64(d)
	})
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "registered_players",
		Help:      "Player ids currently mapped to a connection",
	}, func() float64 {
		_, p := counts()
		return float64(p)
	})
	promauto.With(c.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "log_tenants",
		Help:      "Tenants with at least one log subscriber",
	}, func() float64 {
		return float64(tenants())
	})
}
