package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/threat-exchange/threat-exchange/internal/telemetry"
)

// findMetric returns the first series of c whose labels include every pair in labels
func findMetric(c prometheus.Collector, labels prometheus.Labels) *dto.Metric {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if hasLabels(&dm, labels) {
			return &dm
		}
	}
	return nil
}

func hasLabels(dm *dto.Metric, labels prometheus.Labels) bool {
	for k, want := range labels {
		found := false
		for _, lp := range dm.GetLabel() {
			if lp.GetName() == k && lp.GetValue() == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func requestCount(labels prometheus.Labels) float64 {
	if dm := findMetric(telemetry.HTTPRequestsTotal, labels); dm != nil {
		return dm.GetCounter().GetValue()
	}
	return 0
}

func durationCount(labels prometheus.Labels) uint64 {
	if dm := findMetric(telemetry.HTTPRequestDuration, labels); dm != nil {
		return dm.GetHistogram().GetSampleCount()
	}
	return 0
}

func serveCampaign(status int, url string) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/api/v1/campaigns/:id", func(c *gin.Context) { c.Status(status) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, url, nil))
}

func TestMetricsMiddleware_CountsByRouteTemplate(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/campaigns/:id", "status": "200"}
	before := requestCount(labels)
	durBefore := durationCount(prometheus.Labels{"method": "GET", "path": "/api/v1/campaigns/:id"})

	serveCampaign(http.StatusOK, "/api/v1/campaigns/abc")

	if got := requestCount(labels) - before; got != 1 {
		t.Errorf("http_requests_total delta = %.0f, want 1", got)
	}
	if durationCount(prometheus.Labels{"method": "GET", "path": "/api/v1/campaigns/:id"}) <= durBefore {
		t.Error("http_request_duration_seconds sample count did not increase")
	}
	if findMetric(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "/api/v1/campaigns/abc"}) != nil {
		t.Error("raw URL used as path label")
	}
}

func TestMetricsMiddleware_RecordsErrorStatus(t *testing.T) {
	labels := prometheus.Labels{"method": "GET", "path": "/api/v1/campaigns/:id", "status": "404"}
	before := requestCount(labels)

	serveCampaign(http.StatusNotFound, "/api/v1/campaigns/missing")

	if got := requestCount(labels) - before; got != 1 {
		t.Errorf("http_requests_total{status=404} delta = %.0f, want 1", got)
	}
}

func TestMetricsMiddleware_NoRouteLabel(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if findMetric(telemetry.HTTPRequestsTotal, prometheus.Labels{"path": "<no-route>"}) == nil {
		t.Error("expected a <no-route> series for an unmatched request")
	}
}
