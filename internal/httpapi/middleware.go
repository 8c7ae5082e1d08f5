package httpapi

import (
	"dialer-platform/internal/audit"
	"dialer-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// ClientIP makes the resolved client address available to audit records.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// Convenience middleware bundles.

func RequireOrganizationAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrganization(), rbac.RequireAnyRole(roles...)}
}
