// Package metrics provides Prometheus metrics collection for hostgate.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the routing engine.
type Collector struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RewritePasses    prometheus.Histogram
	ProxyErrors      prometheus.Counter
	ConfigReloads    prometheus.Counter
	ConfigReloadErrs prometheus.Counter
}

// New creates a new metrics collector with all metrics registered.
func New() *Collector {
	return &Collector{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hostgate",
				Name:      "requests_total",
				Help:      "Total number of requests processed",
			},
			[]string{"host", "action", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "hostgate",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"host", "action"},
		),
		RewritePasses: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "hostgate",
				Name:      "rewrite_passes",
				Help:      "Rewrite recursion depth per request",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
			},
		),
		ProxyErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hostgate",
				Name:      "proxy_upstream_errors_total",
				Help:      "Total number of proxy upstream failures",
			},
		),
		ConfigReloads: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hostgate",
				Name:      "config_reloads_total",
				Help:      "Total number of successful configuration reloads",
			},
		),
		ConfigReloadErrs: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hostgate",
				Name:      "config_reload_errors_total",
				Help:      "Total number of failed configuration reloads",
			},
		),
	}
}

// ObserveRequest records one finished request.
func (c *Collector) ObserveRequest(host, action string, status int, d time.Duration) {
	c.RequestsTotal.WithLabelValues(host, action, strconv.Itoa(status)).Inc()
	c.RequestDuration.WithLabelValues(host, action).Observe(d.Seconds())
}

// ObserveRewritePasses records the rewrite depth of one request.
func (c *Collector) ObserveRewritePasses(n int) {
	c.RewritePasses.Observe(float64(n))
}

// IncProxyError counts one upstream failure.
func (c *Collector) IncProxyError() {
	c.ProxyErrors.Inc()
}

// IncReload counts one reload attempt.
func (c *Collector) IncReload(ok bool) {
	if ok {
		c.ConfigReloads.Inc()
	} else {
		c.ConfigReloadErrs.Inc()
	}
}
