package main

import (
	"net/http"

	"dialer-platform/internal/auth"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth     *auth.Manager
	Handlers httpapi.Handlers
	Webhooks telephony.WebhookHandler

	TwilioAuthToken     string
	TwilioPublicBaseURL string
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Provider webhooks. Twilio posts are signature-checked when a public base URL is configured.
	twilio := r.Group("/webhooks/twilio")
	twilio.Use(telephony.TwilioSignatureMiddleware(d.TwilioAuthToken, d.TwilioPublicBaseURL))
	{
		twilio.POST("/status", d.Webhooks.TwilioStatus)
		twilio.POST("/voice", d.Webhooks.TwilioVoice)
	}
	r.POST("/webhooks/telnyx", d.Webhooks.Telnyx)

	h := d.Handlers
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(d.Auth), httpapi.ClientIP())
	{
		v1.GET("/me", h.Me)

		campaigns := v1.Group("/campaigns")
		campaigns.Use(rbac.RequireOrganization())
		{
			manage := rbac.RequireAnyRole(rbac.CampaignManagers...)
			campaigns.POST("", manage, h.CreateCampaign)
			campaigns.GET("", manage, h.ListCampaigns)
			campaigns.GET("/:id", manage, h.GetCampaign)
			campaigns.PUT("/:id/config", manage, h.UpdateCampaignConfig)
			campaigns.POST("/:id/start", manage, h.StartCampaign)
			campaigns.POST("/:id/stop", manage, h.StopCampaign)
			campaigns.POST("/:id/tick", manage, h.TickCampaign)

			campaigns.GET("/:id/contacts", manage, h.ListContacts)
			campaigns.POST("/:id/contacts", manage, h.ImportContacts)
			campaigns.GET("/:id/contacts/export", manage, h.ExportContacts)
			campaigns.POST("/:id/contacts/:contact_id/callback", rbac.RequireAnyRole(rbac.CallHandlers...), h.ScheduleCallback)

			reports := rbac.RequireAnyRole(rbac.ReportViewers...)
			campaigns.GET("/:id/stats", reports, h.CampaignStats)
			campaigns.GET("/:id/compliance", reports, h.CampaignCompliance)
			campaigns.GET("/:id/audit", reports, h.CampaignAudit)
		}

		// Overrides bypass routing for a whole campaign; owners and super admins only.
		overrides := v1.Group("/campaigns/:id/routing-override")
		overrides.Use(rbac.RequireAnyRole(rbac.RoleOwner))
		{
			overrides.PUT("", h.SetRoutingOverride)
			overrides.DELETE("", h.ClearRoutingOverride)
		}

		callGroup := v1.Group("/calls")
		callGroup.Use(httpapi.RequireOrganizationAndAnyRole(rbac.CallHandlers...)...)
		{
			callGroup.POST("", h.CreateCall)
			callGroup.GET("", h.ListCalls)
			callGroup.GET("/:id", h.GetCall)
			callGroup.PATCH("/:id", h.UpdateCall)
			callGroup.POST("/:id/end", h.EndCall)
			callGroup.POST("/:id/transfer", h.TransferCall)
			callGroup.GET("/:id/transcripts", h.Transcripts)
			callGroup.POST("/:id/transcripts", h.AddTranscript)
		}

		v1.GET("/reports/calls", append(httpapi.RequireOrganizationAndAnyRole(rbac.ReportViewers...), h.CallReport)...)

		compliance := v1.Group("")
		compliance.Use(httpapi.RequireOrganizationAndAnyRole(rbac.CampaignManagers...)...)
		{
			compliance.POST("/dnc", h.AddDNC)
			compliance.DELETE("/dnc", h.RemoveDNC)
			compliance.POST("/consent", h.GrantConsent)
			compliance.DELETE("/consent", h.RevokeConsent)
		}
	}
}
