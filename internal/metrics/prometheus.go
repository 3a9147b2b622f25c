package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollectors holds all prometheus metric collectors for rps.
type PrometheusCollectors struct {
	SessionsActive     prometheus.Gauge
	SessionsTotal      prometheus.Counter
	HandshakeOK        prometheus.Counter
	HandshakeBad       prometheus.Counter
	BytesToUpstream    prometheus.Counter
	BytesFromUpstream  prometheus.Counter
	UpstreamRefreshOK  prometheus.Counter
	UpstreamRefreshBad prometheus.Counter
}

// InitPrometheus initializes and registers prometheus metrics.
func InitPrometheus(namespace string) *PrometheusCollectors {
	register := func(c prometheus.Collector) prometheus.Collector {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector
			}
			return c
		}
		return c
	}

	pc := &PrometheusCollectors{}

	pc.SessionsActive = register(prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of currently active client sessions",
	})).(prometheus.Gauge)

	pc.SessionsTotal = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total number of client sessions accepted",
	})).(prometheus.Counter)

	pc.HandshakeOK = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_ok_total",
		Help:      "Total number of successful client handshakes",
	})).(prometheus.Counter)

	pc.HandshakeBad = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "handshakes_failed_total",
		Help:      "Total number of failed client handshakes",
	})).(prometheus.Counter)

	pc.BytesToUpstream = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_to_upstream_total",
		Help:      "Total bytes relayed from clients to upstream proxies",
	})).(prometheus.Counter)

	pc.BytesFromUpstream = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_from_upstream_total",
		Help:      "Total bytes relayed from upstream proxies to clients",
	})).(prometheus.Counter)

	pc.UpstreamRefreshOK = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_refresh_ok_total",
		Help:      "Total number of successful upstream pool refreshes",
	})).(prometheus.Counter)

	pc.UpstreamRefreshBad = register(prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upstream_refresh_failed_total",
		Help:      "Total number of failed upstream pool refreshes",
	})).(prometheus.Counter)

	return pc
}

// UpdateFromCollector syncs the collector's active-session count onto the
// SessionsActive gauge. It does not update the counters in
// PrometheusCollectors, and nothing else in this package does either.
func (p *PrometheusCollectors) UpdateFromCollector(c *Collector) {
	p.SessionsActive.Set(float64(c.GetSessionsActive()))
}
