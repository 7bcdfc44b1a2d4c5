package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	connectAttemptsTotal prometheus.Counter
	connectSuccessTotal  prometheus.Counter
	reconnectsTotal      prometheus.Counter
	redirectsTotal       *prometheus.CounterVec
	detachedTotal        prometheus.Counter
	finishedTotal        prometheus.Counter
	disconnectDelaySecs  prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginproxy_connect_attempts_total",
			Help: "Total number of backend connect attempts.",
		}),
		connectSuccessTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginproxy_connect_success_total",
			Help: "Total number of backend connections established.",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginproxy_reconnects_total",
			Help: "Total number of reconnect attempts after a retryable failure.",
		}),
		redirectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loginproxy_redirects_total",
			Help: "Total number of REFERRAL redirects, labeled by outcome.",
		}, []string{"outcome"}),
		detachedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginproxy_detached_total",
			Help: "Total number of sessions that completed login and detached to the pump.",
		}),
		finishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "loginproxy_finished_total",
			Help: "Total number of detached sessions whose pump finished.",
		}),
		disconnectDelaySecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loginproxy_disconnect_delay_seconds",
			Help:    "Seconds a paced bulk disconnect waited before closing one more connection.",
			Buckets: []float64{0, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}

	reg.MustRegister(
		c.connectAttemptsTotal,
		c.connectSuccessTotal,
		c.reconnectsTotal,
		c.redirectsTotal,
		c.detachedTotal,
		c.finishedTotal,
		c.disconnectDelaySecs,
	)

	return c
}

// ConnectAttempt increments the connect attempt counter.
func (c *PrometheusCollector) ConnectAttempt() { c.connectAttemptsTotal.Inc() }

// ConnectSuccess increments the connect success counter.
func (c *PrometheusCollector) ConnectSuccess() { c.connectSuccessTotal.Inc() }

// Reconnect increments the reconnect counter.
func (c *PrometheusCollector) Reconnect() { c.reconnectsTotal.Inc() }

// Redirect increments the redirect counter, labeled "loop" or "follow".
func (c *PrometheusCollector) Redirect(loop bool) {
	outcome := "follow"
	if loop {
		outcome = "loop"
	}
	c.redirectsTotal.WithLabelValues(outcome).Inc()
}

// Detached increments the detached counter.
func (c *PrometheusCollector) Detached() { c.detachedTotal.Inc() }

// Finished increments the finished counter.
func (c *PrometheusCollector) Finished() { c.finishedTotal.Inc() }

// DisconnectDelayed observes a paced-disconnect wait.
func (c *PrometheusCollector) DisconnectDelayed(seconds float64) {
	c.disconnectDelaySecs.Observe(seconds)
}
