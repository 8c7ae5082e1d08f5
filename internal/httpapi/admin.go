package httpapi

import (
	"net/http"
	"time"

	"dialer-platform/internal/contacts"
	"dialer-platform/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type dncRequest struct {
	PhoneNumbers []string `json:"phone_numbers"`
}

// normalizePhones returns the usable numbers in E.164 form.
func normalizePhones(numbers []string) (ok []string, rejected []string) {
	for _, raw := range numbers {
		if p, valid := contacts.NormalizePhone(raw); valid {
			ok = append(ok, p)
		} else {
			rejected = append(rejected, raw)
		}
	}
	return ok, rejected
}

func (h Handlers) AddDNC(c *gin.Context) {
	h.editDNC(c, true)
}

func (h Handlers) RemoveDNC(c *gin.Context) {
	h.editDNC(c, false)
}

func (h Handlers) editDNC(c *gin.Context, add bool) {
	if h.DNC == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dnc registry not configured"})
		return
	}
	var req dncRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.PhoneNumbers) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_numbers required"})
		return
	}
	phones, rejected := normalizePhones(req.PhoneNumbers)
	var err error
	if add {
		err = h.DNC.Add(c.Request.Context(), phones...)
	} else {
		err = h.DNC.Remove(c.Request.Context(), phones...)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": len(phones), "rejected": rejected})
}

type consentRequest struct {
	PhoneNumbers []string `json:"phone_numbers"`
	Recording    bool     `json:"recording"`
}

func (h Handlers) GrantConsent(c *gin.Context) {
	h.editConsent(c, true)
}

func (h Handlers) RevokeConsent(c *gin.Context) {
	h.editConsent(c, false)
}

func (h Handlers) editConsent(c *gin.Context, grant bool) {
	if h.Consent == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "consent registry not configured"})
		return
	}
	var req consentRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.PhoneNumbers) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_numbers required"})
		return
	}
	phones, rejected := normalizePhones(req.PhoneNumbers)
	var err error
	if grant {
		err = h.Consent.Grant(c.Request.Context(), req.Recording, phones...)
	} else {
		err = h.Consent.Revoke(c.Request.Context(), phones...)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": len(phones), "rejected": rejected})
}

type overrideRequest struct {
	ConnectTo string    `json:"connect_to"`
	ExpiresAt time.Time `json:"expires_at"`
	Metadata  string    `json:"metadata,omitempty"`
}

// SetRoutingOverride forces inbound calls of a campaign to one target until
// the override expires.
func (h Handlers) SetRoutingOverride(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	o := routing.Override{
		OrganizationID: cp.OrganizationID,
		CampaignID:     cp.ID,
		OverrideID:     uuid.NewString(),
		ConnectTo:      req.ConnectTo,
		ExpiresAt:      req.ExpiresAt,
		Metadata:       req.Metadata,
	}
	if err := h.Overrides.Set(c.Request.Context(), o, h.now()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h Handlers) ClearRoutingOverride(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	if err := h.Overrides.Clear(c.Request.Context(), cp.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
