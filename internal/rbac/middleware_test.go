package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"dialer-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(id auth.Identity, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	}, RequireOrganization(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name string
		id   auth.Identity
		want int
	}{
		{"super admin bypasses", auth.Identity{UserID: "u", OrganizationID: "o", Role: RoleSuperAdmin}, http.StatusOK},
		{"allowed role", auth.Identity{UserID: "u", OrganizationID: "o", Role: RoleSupervisor}, http.StatusOK},
		{"agent cannot manage campaigns", auth.Identity{UserID: "u", OrganizationID: "o", Role: RoleAgent}, http.StatusForbidden},
		{"organization required", auth.Identity{UserID: "u", Role: RoleOwner}, http.StatusUnauthorized},
		{"role required", auth.Identity{UserID: "u", OrganizationID: "o"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := serveAs(tc.id, CampaignManagers...); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
