package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dialer"

	"github.com/gin-gonic/gin"
)

// call loads :id and enforces organization isolation.
func (h Handlers) call(c *gin.Context) (calls.Call, bool) {
	call, err := h.Calls.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return calls.Call{}, false
	}
	if !visible(c, call.OrganizationID) {
		writeError(c, calls.ErrNotFound)
		return calls.Call{}, false
	}
	return call, true
}

type createCallRequest struct {
	// CampaignID places the call for a campaign: its compliance gates apply
	// and its from number and provider are the defaults.
	CampaignID string `json:"campaign_id"`
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
	Provider   string `json:"provider"`
	AgentID    string `json:"agent_id"`
	Notes      string `json:"notes"`
}

// CreateCall places a manual outbound call, optionally for a campaign.
func (h Handlers) CreateCall(c *gin.Context) {
	org, ok := organization(c)
	if !ok {
		return
	}
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	n := calls.NewCall{
		OrganizationID: org,
		FromNumber:     req.FromNumber,
		ToNumber:       req.ToNumber,
		Provider:       req.Provider,
		AgentID:        req.AgentID,
		Notes:          req.Notes,
	}
	if req.CampaignID != "" {
		cp, err := h.Campaigns.Get(c.Request.Context(), req.CampaignID)
		if err != nil {
			writeError(c, err)
			return
		}
		if !visible(c, cp.OrganizationID) {
			writeError(c, dialer.ErrNotFound)
			return
		}
		if n.ToNumber, err = h.Campaigns.ScreenNumber(c.Request.Context(), cp, req.ToNumber); err != nil {
			writeError(c, err)
			return
		}
		n.OrganizationID = cp.OrganizationID
		n.CampaignID = cp.ID
		if n.FromNumber == "" {
			n.FromNumber = cp.FromNumber
		}
		if n.Provider == "" {
			n.Provider = cp.Provider
		}
	}
	call, err := h.Calls.Dial(c.Request.Context(), n)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, call)
}

func (h Handlers) ListCalls(c *gin.Context) {
	org, ok := organization(c)
	if !ok {
		return
	}
	f := calls.ListFilter{
		OrganizationID: org,
		CampaignID:     c.Query("campaign_id"),
		AgentID:        c.Query("agent_id"),
		Direction:      calls.Direction(c.Query("direction")),
		Status:         calls.Status(c.Query("status")),
	}
	var err error
	if f.From, err = optionalTime(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return
	}
	if f.To, err = optionalTime(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))

	list, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list})
}

func (h Handlers) GetCall(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	// reconcile with the provider when a push was missed
	if !call.Status.Terminal() && c.Query("refresh") == "true" {
		refreshed, err := h.Calls.Refresh(c.Request.Context(), call.ID)
		if err != nil {
			writeError(c, err)
			return
		}
		call = refreshed
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) UpdateCall(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	var req calls.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Calls.Update(c.Request.Context(), call.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) EndCall(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	var req calls.EndRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	out, err := h.Calls.End(c.Request.Context(), call.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type transferRequest struct {
	AgentID string `json:"agent_id"`
}

func (h Handlers) TransferCall(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Calls.Transfer(c.Request.Context(), call.ID, req.AgentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) AddTranscript(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	var req calls.Transcript
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t, err := h.Calls.AddTranscript(c.Request.Context(), call.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h Handlers) Transcripts(c *gin.Context) {
	call, ok := h.call(c)
	if !ok {
		return
	}
	list, err := h.Calls.Transcripts(c.Request.Context(), call.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": list})
}

func optionalTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
