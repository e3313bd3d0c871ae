package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCheckHealthAggregation(t *testing.T) {
	hc := NewHealthChecker("spyglass", "test")
	hc.AddCheck("ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	status := hc.CheckHealth()
	assert.Equal(t, StatusHealthy, status.Status)
	assert.Equal(t, "spyglass", status.Service)

	hc.AddCheck("slow", func() CheckResult {
		return CheckResult{Status: StatusDegraded, Message: "slow responses"}
	})
	assert.Equal(t, StatusDegraded, hc.CheckHealth().Status)

	hc.AddCheck("down", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy, Message: "connection refused"}
	})
	assert.Equal(t, StatusUnhealthy, hc.CheckHealth().Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hc := NewHealthChecker("spyglass", "test")
	hc.AddCheck("ok", func() CheckResult {
		return CheckResult{Status: StatusHealthy}
	})

	router := gin.New()
	router.GET("/health", hc.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var body HealthStatus
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, StatusHealthy, body.Status)

	hc.AddCheck("down", func() CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConfigurationHealthCheck(t *testing.T) {
	check := ConfigurationHealthCheck(map[string]string{
		"KAFKA_BROKERS": "localhost:9092",
		"DATABASE_URL":  "",
	})
	result := check()
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Contains(t, result.Message, "DATABASE_URL")

	check = ConfigurationHealthCheck(map[string]string{
		"KAFKA_BROKERS": "localhost:9092",
	})
	assert.Equal(t, StatusHealthy, check().Status)
}
