// Package metrics exposes the gateway's Prometheus instrumentation —
// grounded on ContentSquare-chproxy's metrics.go (package-level
// CounterVec/GaugeVec fields registered against a Registry, fed by
// hook-shaped callbacks from the request path) generalized from
// chproxy's per-user/per-cluster labels to this gateway's
// per-operation-class and per-account-status labels.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anatolykoptev/scrapegate/internal/dispatch"
)

// Metrics owns a private Registry rather than prometheus's global
// DefaultRegisterer, so tests can construct independent instances
// without collector-already-registered panics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal       *prometheus.CounterVec
	requestsSuccess     *prometheus.CounterVec
	requestsRateLimited *prometheus.CounterVec

	queueDepth   prometheus.Gauge
	activeOps    prometheus.Gauge
	maxOps       prometheus.Gauge
	accountsByStatus *prometheus.GaugeVec
	proxiesTotal     prometheus.Gauge
}

// New builds and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapegate_requests_total",
			Help: "Total dispatched upstream requests by operation class.",
		}, []string{"op"}),
		requestsSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapegate_requests_success_total",
			Help: "Successful upstream requests by operation class.",
		}, []string{"op"}),
		requestsRateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrapegate_requests_rate_limited_total",
			Help: "Upstream requests that failed with a rate-limit classification, by operation class.",
		}, []string{"op"}),

		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapegate_queue_depth",
			Help: "Current number of requests waiting in the admission queue.",
		}),
		activeOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapegate_active_operations",
			Help: "Number of operations currently in flight against the upstream.",
		}),
		maxOps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapegate_max_concurrency",
			Help: "Configured maximum number of concurrent upstream operations.",
		}),
		accountsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scrapegate_accounts_by_status",
			Help: "Number of accounts currently in each health status.",
		}, []string{"status"}),
		proxiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scrapegate_proxies_total",
			Help: "Number of proxies configured in the pool.",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestsSuccess,
		m.requestsRateLimited,
		m.queueDepth,
		m.activeOps,
		m.maxOps,
		m.accountsByStatus,
		m.proxiesTotal,
	)

	return m
}

// Handler serves the registry's families in the Prometheus exposition
// format; mounted at GET /metrics by cmd/gatewayd.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hook returns the internal/dispatch.Config.MetricsHook implementation —
// the Prometheus-backed analogue of go-twitter's ClientConfig.MetricsHook
// callback, now wired into the dispatcher's attempt()/run() call sites.
func (m *Metrics) Hook() func(opName string, success, rateLimited bool) {
	return func(opName string, success, rateLimited bool) {
		m.requestsTotal.WithLabelValues(opName).Inc()
		if success {
			m.requestsSuccess.WithLabelValues(opName).Inc()
		}
		if rateLimited {
			m.requestsRateLimited.WithLabelValues(opName).Inc()
		}
	}
}

// ObserveStats snapshots a dispatch.Stats poll into the gauge
// collectors; cmd/gatewayd calls this on a ticker since, unlike the
// counters fed by Hook, these reflect point-in-time state rather than
// discrete events.
func (m *Metrics) ObserveStats(stats dispatch.Stats) {
	m.queueDepth.Set(float64(stats.Queue.Depth))
	m.activeOps.Set(float64(stats.Concurrency.Active))
	m.maxOps.Set(float64(stats.Concurrency.Max))

	m.accountsByStatus.WithLabelValues("healthy").Set(float64(stats.Accounts.Healthy))
	m.accountsByStatus.WithLabelValues("probation").Set(float64(stats.Accounts.Probation))
	m.accountsByStatus.WithLabelValues("cooldown").Set(float64(stats.Accounts.Cooldown))
	m.accountsByStatus.WithLabelValues("disabled").Set(float64(stats.Accounts.Disabled))
	m.accountsByStatus.WithLabelValues("locked").Set(float64(stats.Accounts.Locked))

	m.proxiesTotal.Set(float64(stats.Proxies.Total))
}
