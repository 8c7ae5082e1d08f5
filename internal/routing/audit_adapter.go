package routing

import (
	"context"
	"encoding/json"
	"time"

	"dialer-platform/internal/audit"
)

// AuditAdapter bridges routing's override audit hook to the shared audit.Service.
//
// This keeps routing internals from depending on persistence or on any user-facing surface.
type AuditAdapter struct {
	Audit *audit.Service
}

type overrideAuditMetadata struct {
	OverrideID     string    `json:"override_id,omitempty"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
	From           string    `json:"from,omitempty"`
	To             string    `json:"to,omitempty"`
	ConnectTo      string    `json:"connect_to"`
	ExpiresAt      time.Time `json:"expires_at"`
	Extra          string    `json:"extra,omitempty"`
}

func (a AuditAdapter) LogOverrideApplied(ctx context.Context, e OverrideAuditEvent) error {
	if a.Audit == nil {
		return nil
	}
	meta, err := json.Marshal(overrideAuditMetadata{
		OverrideID:     e.OverrideID,
		ProviderCallID: e.ProviderCallID,
		From:           e.From,
		To:             e.To,
		ConnectTo:      e.ConnectTo,
		ExpiresAt:      e.ExpiresAt,
		Extra:          e.Metadata,
	})
	if err != nil {
		return err
	}
	return a.Audit.Append(ctx, audit.Event{
		OrganizationID: e.OrganizationID,
		Type:           audit.EventTypeRoutingOverride,
		IPAddress:      e.IPAddress,
		CampaignID:     e.CampaignID,
		Message:        "routing override applied",
		Metadata:       string(meta),
	})
}
