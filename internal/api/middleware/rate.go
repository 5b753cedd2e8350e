package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
)

// RateLimit creates a per-IP rate limiting middleware. This is the
// transport-level flood guard; per-identity submission budgets are
// enforced separately at admission.
func RateLimit(cfg config.HTTPRateConfig) gin.HandlerFunc {
	type client struct {
		limiter *rate.Limiter
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		if _, exists := clients[ip]; !exists {
			clients[ip] = &client{
				limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
			}
		}
		limiter := clients[ip].limiter
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// GlobalRateLimit creates a process-wide rate limiting middleware. It
// caps aggregate load across all clients, on top of the per-IP limiter.
func GlobalRateLimit(cfg config.HTTPRateConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
