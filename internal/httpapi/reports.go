package httpapi

import (
	"net/http"
	"strconv"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

func (h Handlers) CallReport(c *gin.Context) {
	org, ok := organization(c)
	if !ok {
		return
	}
	req := reporting.CallStatsRequest{
		OrganizationID: org,
		CampaignID:     c.Query("campaign_id"),
		AgentID:        c.Query("agent_id"),
		Direction:      calls.Direction(c.Query("direction")),
	}
	var err error
	if req.Range.From, err = optionalTime(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	if req.Range.To, err = optionalTime(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}
	out, err := h.Reports.CallStats(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CampaignAudit lists the campaign's audit trail, newest first.
func (h Handlers) CampaignAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	f := audit.ListFilter{
		OrganizationID: cp.OrganizationID,
		CampaignID:     cp.ID,
		Type:           audit.EventType(c.Query("type")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		f.Limit = n
	}
	events, err := h.Audit.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
