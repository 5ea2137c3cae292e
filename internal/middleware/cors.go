package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, X-Request-Id"
)

type corsPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
}

// CORS allows the configured origins. An empty allowlist means any origin,
// which only fits local development setups.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := &corsPolicy{allowed: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		policy.allowed[origin] = struct{}{}
	}
	policy.allowAll = len(policy.allowed) == 0
	return policy.handle
}

func (p *corsPolicy) handle(c *gin.Context) {
	header := c.Writer.Header()
	if p.allowAll {
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", corsAllowMethods)
		header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
	} else if origin := c.GetHeader("Origin"); origin != "" {
		if _, ok := p.allowed[origin]; ok {
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Vary", "Origin")
			header.Set("Access-Control-Allow-Methods", corsAllowMethods)
			header.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		}
	}
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}
