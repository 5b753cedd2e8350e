package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/scriptdeck/scriptdeck/internal/infrastructure/config"
)

// IdentityKey is the gin context key holding the caller identity used
// for admission accounting and artifact ownership.
const IdentityKey = "identity"

// Auth resolves the caller identity. With API keys configured, a valid
// Bearer token is required and becomes the identity. With no keys
// configured the service is open and the client IP is the identity.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}

	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Set(IdentityKey, c.ClientIP())
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			c.Abort()
			return
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(token), []byte(k)) == 1 {
				c.Set(IdentityKey, token)
				c.Next()
				return
			}
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
		c.Abort()
	}
}

// Identity returns the caller identity set by Auth.
func Identity(c *gin.Context) string {
	if v, ok := c.Get(IdentityKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return c.ClientIP()
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
