// Package metrics registers the proxy's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// upstreamRequests counts finished dispatches by method and outcome
	// (ok, upstream_error, retries_exhausted, transport_error).
	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuhproxy_upstream_requests_total",
			Help: "Total upstream dispatches by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wazuhproxy_upstream_request_duration_seconds",
			Help:    "Upstream dispatch duration including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	upstreamRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wazuhproxy_upstream_retries_total",
			Help: "Total retries caused by transient upstream error codes",
		},
	)

	readinessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuhproxy_readiness_checks_total",
			Help: "Total readiness checks by result (ready, not_ready, error)",
		},
		[]string{"result"},
	)

	exportPages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wazuhproxy_export_pages_total",
			Help: "Total upstream pages fetched by CSV exports",
		},
	)

	exportRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wazuhproxy_export_rows_total",
			Help: "Total CSV rows written by exports",
		},
	)

	exportRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wazuhproxy_export_rate_limited_total",
			Help: "Total CSV exports rejected by the per-connection rate limiter",
		},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wazuhproxy_http_requests_total",
			Help: "Total inbound API requests by route and status code",
		},
		[]string{"route", "code"},
	)
)

// Outcome labels for [ObserveUpstream].
const (
	OutcomeOK               = "ok"
	OutcomeUpstreamError    = "upstream_error"
	OutcomeRetriesExhausted = "retries_exhausted"
	OutcomeTransportError   = "transport_error"
)

func ObserveUpstream(method, outcome string, elapsed time.Duration) {
	upstreamRequests.WithLabelValues(method, outcome).Inc()
	upstreamDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func IncRetry() {
	upstreamRetries.Inc()
}

// ObserveReadiness records one readiness check; err takes precedence.
func ObserveReadiness(ready bool, err error) {
	switch {
	case err != nil:
		readinessChecks.WithLabelValues("error").Inc()
	case ready:
		readinessChecks.WithLabelValues("ready").Inc()
	default:
		readinessChecks.WithLabelValues("not_ready").Inc()
	}
}

func ObserveExport(pages, rows int) {
	exportPages.Add(float64(pages))
	exportRows.Add(float64(rows))
}

func IncExportRateLimited() {
	exportRateLimited.Inc()
}

func ObserveHTTP(route, code string) {
	httpRequests.WithLabelValues(route, code).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
