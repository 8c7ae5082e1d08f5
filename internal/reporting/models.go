package reporting

import (
	"time"

	"dialer-platform/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallStatsRequest requests aggregated call metrics.
// Organization isolation: OrganizationID is required.
type CallStatsRequest struct {
	OrganizationID string          `json:"organization_id"`
	Range          TimeRange       `json:"range"`
	CampaignID     string          `json:"campaign_id,omitempty"`
	AgentID        string          `json:"agent_id,omitempty"`
	Direction      calls.Direction `json:"direction,omitempty"`
}

type CallStats struct {
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	PendingCalls    int `json:"pending_calls"`

	AnsweredCalls int `json:"answered_calls"`
	Conversions   int `json:"conversions"`

	// Dispositions counts calls by disposition; calls without one are omitted.
	Dispositions map[string]int `json:"dispositions"`

	TotalDurationSeconds   int     `json:"total_duration_seconds"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}

// ComplianceReport summarizes how a campaign's contacts were screened.
type ComplianceReport struct {
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id"`

	TotalContacts int            `json:"total_contacts"`
	ByStatus      map[string]int `json:"by_status"`

	DNCExcluded       int `json:"dnc_excluded"`
	ConsentMissing    int `json:"consent_missing"`
	InvalidNumbers    int `json:"invalid_numbers"`
	AttemptsExhausted int `json:"attempts_exhausted"`

	// ProviderErrorCalls lists placements the provider rejected.
	ProviderErrorCalls []calls.Call `json:"provider_error_calls"`
}
