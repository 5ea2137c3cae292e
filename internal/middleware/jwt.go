package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/quarryai/quarry/internal/pkg/errcode"
	"github.com/quarryai/quarry/internal/pkg/jwt"
	"github.com/quarryai/quarry/internal/pkg/response"
	"github.com/quarryai/quarry/internal/tenant"
)

const (
	ContextUserIDKey   = "user_id"
	ContextTenantIDKey = "tenant_id"
)

// JWTAuth validates the bearer token and enters the tenant scope on the
// request context, so every downstream read and write is tenant bound.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(parts[1], secret)
		if err != nil {
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Set(ContextTenantIDKey, claims.TenantID)
		c.Request = c.Request.WithContext(tenant.WithTenant(c.Request.Context(), claims.TenantID))
		c.Next()
	}
}
