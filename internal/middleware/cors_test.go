package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func runCORS(t *testing.T, handler gin.HandlerFunc, method, origin string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, "/api/v1/documents", nil)
	if origin != "" {
		c.Request.Header.Set("Origin", origin)
	}
	handler(c)
	return c, rec
}

func TestCORS_EmptyAllowlistAllowsAny(t *testing.T) {
	gin.SetMode(gin.TestMode)
	_, rec := runCORS(t, CORS(nil), http.MethodGet, "https://example.com")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowlistedOriginEchoed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := CORS([]string{"https://app.example.com", " https://other.example.com "})

	_, rec := runCORS(t, handler, http.MethodGet, "https://app.example.com")
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Origin", rec.Header().Get("Vary"))

	// entries are trimmed before matching
	_, rec = runCORS(t, handler, http.MethodGet, "https://other.example.com")
	require.Equal(t, "https://other.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_UnlistedOriginGetsNoHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := CORS([]string{"https://app.example.com"})
	_, rec := runCORS(t, handler, http.MethodGet, "https://evil.example.com")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightAborts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := CORS([]string{"https://app.example.com"})
	c, rec := runCORS(t, handler, http.MethodOptions, "https://app.example.com")
	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusNoContent, rec.Code)
}
