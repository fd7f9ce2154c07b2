package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"voicegate/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(tenantID, role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "u", tenantID, role))
		c.Next()
	}, RequireTenant(), RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name    string
		tenant  string
		role    string
		allowed []string
		want    int
	}{
		{"listed role", "t1", RoleAnalyst, CallHistoryRoles, http.StatusOK},
		{"super admin bypasses", "t1", RoleSuperAdmin, []string{RoleOwner}, http.StatusOK},
		{"unlisted role", "t1", RoleDeveloper, CallHistoryRoles, http.StatusForbidden},
		{"hidden role not listed", "t1", RoleSupport, CallHistoryRoles, http.StatusForbidden},
		{"hidden role listed", "t1", RoleSupport, []string{RoleOwner, RoleSupport}, http.StatusOK},
		{"unknown role listed", "t1", "janitor", []string{"janitor"}, http.StatusForbidden},
		{"missing tenant", "", RoleOwner, CallHistoryRoles, http.StatusUnauthorized},
		{"missing role", "t1", "", CallHistoryRoles, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, serve(tc.tenant, tc.role, tc.allowed...))
		})
	}
}
