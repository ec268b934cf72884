// Package telemetry provides application-level observability for the threat exchange.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served by the side-channel HTTP server started by the serve command:
//
//	GET http://<host>:<TXCH_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is not served by the Gin router.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Exchange activity: submissions, campaign lifecycle, budget exhaustion, auth failures
//   - Database transaction retries and connection pool gauge
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/campaigns/:id) rather than
// the raw request URL. Organization ids are never used as labels.
package telemetry

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/threat-exchange/threat-exchange/internal/safego"
)

// HTTP metrics, labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Exchange metrics.
//
// IncidentsSubmittedTotal carries a {result} label: "created", "updated", "rejected" or "error".
//
// Example PromQL queries:
//   - Submission rate:        sum by (result) (rate(incidents_submitted_total[5m]))
//   - Budget pressure:        rate(budget_exhausted_total[1h])
//   - Credential stuffing:    increase(auth_failures_total[5m]) > 100
var (
	IncidentsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "incidents_submitted_total",
			Help: "Total number of incident submissions, by result.",
		},
		[]string{"result"},
	)

	CampaignsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_created_total",
			Help: "Total number of campaigns opened by the correlator.",
		},
	)

	CampaignsDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "campaigns_deleted_total",
			Help: "Total number of campaigns deleted after losing their last member.",
		},
	)

	BudgetExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budget_exhausted_total",
			Help: "Total number of requests rejected because the organization's query budget was exhausted.",
		},
	)

	AuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_failures_total",
			Help: "Total number of requests rejected with an invalid or missing API key.",
		},
	)

	// CampaignsActive is sampled by the campaign stats job.
	CampaignsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaigns_active",
			Help: "Current number of campaigns.",
		},
	)
)

// TxRetriesTotal counts transactions re-run after a serialization failure or deadlock.
var TxRetriesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "tx_retries_total",
		Help: "Total number of database transactions retried after a serialization failure or deadlock.",
	},
)

// DBOpenConnections tracks the number of open connections held by the sql.DB pool.
// It is sampled by StartDBStatsCollector rather than per-request.
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector samples connection pool statistics every interval until ctx is
// cancelled or the database becomes unreachable.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	safego.Go("db-stats", func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := db.PingContext(ctx); err != nil {
					slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
					return
				}
				DBOpenConnections.Set(float64(db.Stats().OpenConnections))
			}
		}
	})
}
