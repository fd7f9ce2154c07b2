package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"voicegate/internal/audit"
	"voicegate/internal/auth"
	"voicegate/internal/config"
	"voicegate/internal/httpapi"
	"voicegate/internal/messaging"
	"voicegate/internal/rbac"
	"voicegate/internal/reconciler"
	"voicegate/internal/routing"
	"voicegate/internal/telemetry"
	"voicegate/internal/telephony"
	"voicegate/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	Config config.Config
	Auth   *auth.Manager
	DB     *sql.DB
	Redis  *redis.Client

	Tracing    *telemetry.Provider
	Engine     *routing.Engine
	Reconciler *reconciler.Reconciler
	Messages   *messaging.Recorder
	Audit      *audit.Service

	Calls   httpapi.CallReader
	Reports httpapi.Summarizer
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := utils.HealthCheck(ctx, d.DB, time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "postgres"})
			return
		}
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "dependency": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Carrier webhooks (public, signed).
	wh := telephony.WebhookRouter{
		Initiation: d.Engine,
		Status:     d.Reconciler,
		Messages:   d.Messages,
		Audit:      d.Audit,
	}
	webhooks := r.Group("/webhooks/twilio")
	if d.Config.Twilio.ValidateSignature {
		webhooks.Use(telephony.ValidateTwilioSignature(d.Config.Twilio.AuthToken, d.Config.Twilio.PublicBaseURL))
	}
	webhooks.POST("/:event", wh.Handle)

	h := httpapi.Handlers{
		Auth:          d.Auth,
		Calls:         d.Calls,
		Reports:       d.Reports,
		AllowDevLogin: !d.Config.IsProduction(),
	}

	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)

	// protected API group
	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(d.Auth))
	{
		protected.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		calls := protected.Group("/calls")
		calls.Use(httpapi.RequireTenantAndAnyRole(rbac.CallHistoryRoles...)...)
		{
			calls.GET("", h.ListCalls)
			calls.GET("/summary", h.CallsSummary)
			calls.GET("/:call_id", h.GetCall)
		}
	}
}
