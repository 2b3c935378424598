// Package metrics exposes Prometheus collectors for the edge proxy.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	proxyRequestsTotal      *prometheus.CounterVec
	proxyBackendErrorsTotal *prometheus.CounterVec
	resolveDurationSeconds  prometheus.Histogram
	upstreamHealthy         prometheus.Gauge
	upstreamAvailableSlots  prometheus.Gauge
	upstreamMemoryUsage     prometheus.Gauge
	upstreamCPUUsage        prometheus.Gauge
	probeFailuresTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		proxyRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlfront_proxy_requests_total",
				Help: "Total proxied requests, labeled by routing outcome, target port and status code.",
			},
			[]string{"outcome", "target_port", "code"},
		)

		proxyBackendErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlfront_proxy_backend_errors_total",
				Help: "Total forwarding failures, labeled by target port.",
			},
			[]string{"target_port"},
		)

		resolveDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawlfront_resolve_duration_seconds",
				Help:    "Histogram of route resolution latencies.",
				Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.001},
			},
		)

		upstreamHealthy = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlfront_upstream_healthy",
				Help: "Whether the upstream crawl API is considered healthy (1) or not (0).",
			},
		)

		upstreamAvailableSlots = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlfront_upstream_available_slots",
				Help: "Crawl slots the upstream reported available on its last health check.",
			},
		)

		upstreamMemoryUsage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlfront_upstream_memory_usage",
				Help: "Memory usage the upstream reported on its last health check.",
			},
		)

		upstreamCPUUsage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlfront_upstream_cpu_usage",
				Help: "CPU usage the upstream reported on its last health check.",
			},
		)

		probeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawlfront_probe_failures_total",
				Help: "Total failed upstream health probes.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProxyRequest records one proxied request.
func ObserveProxyRequest(matched bool, targetPort, code int, resolveDuration time.Duration) {
	outcome := "fallback"
	if matched {
		outcome = "matched"
	}
	proxyRequestsTotal.WithLabelValues(outcome, strconv.Itoa(targetPort), strconv.Itoa(code)).Inc()
	resolveDurationSeconds.Observe(resolveDuration.Seconds())
}

// ObserveBackendError increments the forwarding failure counter.
func ObserveBackendError(targetPort int) {
	proxyBackendErrorsTotal.WithLabelValues(strconv.Itoa(targetPort)).Inc()
}

// SetUpstreamHealthy flips the upstream health gauge.
func SetUpstreamHealthy(healthy bool) {
	if healthy {
		upstreamHealthy.Set(1)
		return
	}
	upstreamHealthy.Set(0)
}

// SetUpstreamStats records the capacity figures from a health payload.
func SetUpstreamStats(availableSlots int, memoryUsage, cpuUsage float64) {
	upstreamAvailableSlots.Set(float64(availableSlots))
	upstreamMemoryUsage.Set(memoryUsage)
	upstreamCPUUsage.Set(cpuUsage)
}

// ObserveProbeFailure increments the failed probe counter.
func ObserveProbeFailure() {
	probeFailuresTotal.Inc()
}
