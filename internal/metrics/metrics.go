package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the proxy's Prometheus collectors behind one handler.
type Registry struct {
	reg *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	RequestLatency    *prometheus.HistogramVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	UpstreamRequests  *prometheus.CounterVec
	QueueDepth        *prometheus.GaugeVec
	ClientRateLimited prometheus.Counter
	CacheWarmRuns     *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgeproxy_requests_total",
			Help: "Total requests handled, by service and outcome",
		}, []string{"service", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgeproxy_request_latency_ms",
			Help:    "Handler latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		}, []string{"service"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgeproxy_cache_hits_total",
			Help: "Cache hits by service",
		}, []string{"service"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgeproxy_cache_misses_total",
			Help: "Cache misses by service",
		}, []string{"service"}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgeproxy_upstream_requests_total",
			Help: "Upstream requests by service and status",
		}, []string{"service", "status"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgeproxy_queue_depth",
			Help: "Request queue depth by service",
		}, []string{"service"}),
		ClientRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgeproxy_client_rate_limited_total",
			Help: "Front-door requests rejected with 429",
		}),
		CacheWarmRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgeproxy_cache_warm_runs_total",
			Help: "Cache warming passes by service and outcome",
		}, []string{"service", "outcome"}),
	}
	reg.MustRegister(
		m.RequestsTotal, m.RequestLatency,
		m.CacheHits, m.CacheMisses,
		m.UpstreamRequests, m.QueueDepth,
		m.ClientRateLimited, m.CacheWarmRuns,
	)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
