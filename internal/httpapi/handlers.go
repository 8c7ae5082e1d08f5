package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/reporting"
	"dialer-platform/internal/routing"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Campaigns *dialer.Engine
	Calls     *calls.Manager
	Reports   *reporting.Service
	DNC       compliance.ListRegistry
	Consent   compliance.ConsentRegistry
	Overrides routing.OverrideWriter
	Audit     *audit.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// writeError maps service errors to status codes. Unknown errors are 500s
// and their text never reaches the client.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, dialer.ErrNotFound),
		errors.Is(err, contacts.ErrNotFound),
		errors.Is(err, calls.ErrNotFound),
		errors.Is(err, reporting.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, dialer.ErrAlreadyActive),
		errors.Is(err, dialer.ErrNotActive),
		errors.Is(err, dialer.ErrCampaignActive),
		errors.Is(err, dialer.ErrCallbacksDisabled),
		errors.Is(err, contacts.ErrInvalidState),
		errors.Is(err, calls.ErrInvalidState),
		errors.Is(err, calls.ErrDuplicateProviderCall):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, compliance.ErrConsentMissing),
		errors.Is(err, compliance.ErrDNCExcluded):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, telephony.ErrProvider):
		status, msg = http.StatusBadGateway, "provider error"
	case errors.Is(err, dialer.ErrInvalidConfig),
		errors.Is(err, calls.ErrInvalidCall),
		errors.Is(err, contacts.ErrNoPhoneColumn),
		errors.Is(err, reporting.ErrInvalidRequest),
		errors.Is(err, routing.ErrInvalidOverride),
		errors.Is(err, telephony.ErrUnknownProvider):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, dialer.ErrClosed):
		status, msg = http.StatusServiceUnavailable, "shutting down"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		logger.FromGin(c).Error("request failed", "err", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// organization returns the caller's organization, aborting with 401 when absent.
func organization(c *gin.Context) (string, bool) {
	org, err := auth.OrganizationID(c.Request.Context())
	if err != nil || org == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "organization_id required"})
		return "", false
	}
	return org, true
}

// visible reports whether the caller may see a resource owned by org.
func visible(c *gin.Context, org string) bool {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return rbac.IsSuperAdmin(id.Role) || id.OrganizationID == org
}

// --- Auth ---

type loginRequest struct {
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This endpoint trusts its input. Deployments put it behind an identity
// provider that has already validated credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrganizationID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, organization_id, role required"})
		return
	}
	if rbac.IsSuperAdmin(req.Role) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not issuable"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), auth.Identity{UserID: req.UserID, OrganizationID: req.OrganizationID, Role: req.Role})
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id, _ := auth.IdentityFrom(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "organization_id": id.OrganizationID, "role": id.Role})
}
