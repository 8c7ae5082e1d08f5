package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"

	"github.com/gin-gonic/gin"
)

const maxImportBytes = 20 << 20

// campaign loads :id and enforces organization isolation. Campaigns of other
// organizations read as not found.
func (h Handlers) campaign(c *gin.Context) (dialer.Campaign, bool) {
	cp, err := h.Campaigns.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return dialer.Campaign{}, false
	}
	if !visible(c, cp.OrganizationID) {
		writeError(c, dialer.ErrNotFound)
		return dialer.Campaign{}, false
	}
	return cp, true
}

func (h Handlers) CreateCampaign(c *gin.Context) {
	org, ok := organization(c)
	if !ok {
		return
	}
	var req dialer.NewCampaign
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	req.OrganizationID = org
	cp, err := h.Campaigns.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cp)
}

func (h Handlers) ListCampaigns(c *gin.Context) {
	org, ok := organization(c)
	if !ok {
		return
	}
	list, err := h.Campaigns.List(c.Request.Context(), org)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": list})
}

func (h Handlers) GetCampaign(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, cp)
}

func (h Handlers) UpdateCampaignConfig(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	var cfg dialer.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out, err := h.Campaigns.UpdateConfig(c.Request.Context(), cp.ID, cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) StartCampaign(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	out, err := h.Campaigns.Start(c.Request.Context(), cp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) StopCampaign(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	out, err := h.Campaigns.Stop(c.Request.Context(), cp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// TickCampaign runs one scheduling pass now instead of waiting for the ticker.
func (h Handlers) TickCampaign(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	res, err := h.Campaigns.Tick(c.Request.Context(), cp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h Handlers) CampaignStats(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	stats, err := h.Campaigns.GetStats(c.Request.Context(), cp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) CampaignCompliance(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	rep, err := h.Reports.ComplianceReport(c.Request.Context(), cp.OrganizationID, cp.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// --- Contacts ---

func (h Handlers) ListContacts(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	f := contacts.ListFilter{Status: contacts.Status(c.Query("status"))}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.Query("offset"))
	list, err := h.Campaigns.ListContacts(c.Request.Context(), cp.ID, f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": list})
}

// ExportContacts streams the campaign's contacts as an XLSX workbook.
func (h Handlers) ExportContacts(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	list, err := h.Campaigns.ListContacts(c.Request.Context(), cp.ID, contacts.ListFilter{})
	if err != nil {
		writeError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := contacts.WriteXLSX(&buf, list); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="contacts-`+cp.ID+`.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

type importJSON struct {
	Contacts []contacts.Record `json:"contacts"`
}

// ImportContacts accepts a multipart "file" (.csv or .xlsx) or a JSON body
// of records.
func (h Handlers) ImportContacts(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	records, err := readRecords(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.Campaigns.ImportContacts(c.Request.Context(), cp.ID, records)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func readRecords(c *gin.Context) ([]contacts.Record, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, errBadImport("file required")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		switch strings.ToLower(filepath.Ext(fh.Filename)) {
		case ".xlsx":
			return contacts.ParseXLSX(f)
		case ".csv", "":
			return contacts.ParseCSV(f)
		default:
			return nil, errBadImport("unsupported file type")
		}
	}
	if c.ContentType() == "text/csv" {
		return contacts.ParseCSV(c.Request.Body)
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	var body importJSON
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errBadImport("invalid json")
	}
	return body.Contacts, nil
}

type errBadImport string

func (e errBadImport) Error() string { return string(e) }

type callbackRequest struct {
	// When is the callback time; zero means after the campaign's retry delay.
	When  time.Time `json:"when"`
	Notes string    `json:"notes"`
}

func (h Handlers) ScheduleCallback(c *gin.Context) {
	cp, ok := h.campaign(c)
	if !ok {
		return
	}
	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.When.IsZero() {
		req.When = h.now().Add(time.Duration(cp.Config.TimeBetweenAttemptsMinutes) * time.Minute)
	}
	ct, err := h.Campaigns.ScheduleCallback(c.Request.Context(), cp.ID, c.Param("contact_id"), req.When, req.Notes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}
