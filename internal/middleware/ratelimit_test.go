package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newLimitedContext(tenantID string) (*gin.Context, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("POST", "/api/v1/chat/ask", nil)
	if tenantID != "" {
		c.Set(ContextTenantIDKey, tenantID)
	}
	return c, rec
}

func TestRateLimiterHandle_BlocksWhenBucketDrained(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &rateLimiter{rps: 1, burst: 2, buckets: make(map[string]*bucket)}

	for i := 0; i < 2; i++ {
		c, _ := newLimitedContext("t1")
		limiter.handle(c)
		require.False(t, c.IsAborted())
	}

	c, _ := newLimitedContext("t1")
	limiter.handle(c)
	require.True(t, c.IsAborted())
}

func TestRateLimiterHandle_TenantsHaveSeparateBuckets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &rateLimiter{rps: 1, burst: 1, buckets: make(map[string]*bucket)}

	c1, _ := newLimitedContext("t1")
	limiter.handle(c1)
	require.False(t, c1.IsAborted())

	c2, _ := newLimitedContext("t2")
	limiter.handle(c2)
	require.False(t, c2.IsAborted())

	c3, _ := newLimitedContext("t1")
	limiter.handle(c3)
	require.True(t, c3.IsAborted())
}

func TestRateLimiterAllow_RefillsOverTime(t *testing.T) {
	limiter := &rateLimiter{rps: 10, burst: 1, buckets: make(map[string]*bucket)}
	require.True(t, limiter.allow("k"))
	require.False(t, limiter.allow("k"))

	limiter.buckets["k"].last = time.Now().Add(-time.Second)
	require.True(t, limiter.allow("k"))
}

func TestRateLimiterHandle_DisabledWhenRPSZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &rateLimiter{rps: 0, buckets: make(map[string]*bucket)}
	for i := 0; i < 5; i++ {
		c, _ := newLimitedContext("t1")
		limiter.handle(c)
		require.False(t, c.IsAborted())
	}
}
