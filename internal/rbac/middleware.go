package rbac

import (
	"net/http"

	"voicegate/internal/auth"
	"voicegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequireTenant rejects requests whose identity carries no tenant.
// Every tenant-scoped handler reads the tenant from context, never from the request.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if tid, err := auth.TenantID(c.Request.Context()); err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has one of the provided roles.
//   - super_admin passes every check
//   - unknown roles are refused even if listed
//   - hidden roles pass only when listed by name
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}

		_, listed := allowedSet[role]
		if !Known(role) || !listed {
			logger.FromGin(c).Info("role denied", zap.String("role", role), zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
