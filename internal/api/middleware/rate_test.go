package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
)

func rateRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r *gin.Engine, ip string) int {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":1234"
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimitPerIP(t *testing.T) {
	cfg := config.HTTPRateConfig{RequestsPerSecond: 1, Burst: 2}
	r := rateRouter(RateLimit(cfg))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.1"))

	// A different client has its own bucket.
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2"))
}

func TestGlobalRateLimitSharedAcrossClients(t *testing.T) {
	cfg := config.HTTPRateConfig{GlobalRPS: 1, GlobalBurst: 2}
	r := rateRouter(GlobalRateLimit(cfg))

	assert.Equal(t, http.StatusOK, get(r, "10.0.0.1"))
	assert.Equal(t, http.StatusOK, get(r, "10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, get(r, "10.0.0.3"))
}
