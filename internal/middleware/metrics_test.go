package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func latencySeries(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	series := make(map[string]bool)
	for _, family := range families {
		if family.GetName() != "trialkit_api_latency_seconds" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" {
					series[label.GetValue()] = true
				}
			}
		}
	}
	return series
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/api/campaigns/:key", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/campaigns/spring-launch", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	series := latencySeries(t)
	require.True(t, series["/api/campaigns/:key"])
	require.True(t, series[unmatchedRoute])
	require.False(t, series["/api/campaigns/spring-launch"])
	require.False(t, series["/wp-login.php"])
}
