package auth

import (
	"net/http"
	"strings"
	"time"

	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects the caller identity
// into the request context. Role checks belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Every log line of an authenticated request names its tenant and caller.
		l := logger.FromGin(c).With("organization_id", claims.OrganizationID, "user_id", claims.UserID, "role", claims.Role)
		c.Set("logger", l)
		ctx := logger.With(WithIdentity(c.Request.Context(), claims.Identity()), l)
		c.Request = c.Request.WithContext(ctx)
		c.Set("organization_id", claims.OrganizationID)
		c.Next()
	}
}
