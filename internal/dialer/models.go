package dialer

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("dialer: campaign not found")
	ErrAlreadyActive = errors.New("dialer: campaign already active")
	ErrNotActive     = errors.New("dialer: campaign not active")
	// ErrCampaignActive rejects config edits while a campaign runs.
	ErrCampaignActive    = errors.New("dialer: campaign is active")
	ErrInvalidConfig     = errors.New("dialer: invalid campaign config")
	ErrCallbacksDisabled = errors.New("dialer: callbacks disabled for campaign")
	ErrClosed            = errors.New("dialer: engine closed")
)

// Campaign is a configured outbound dialing job.
//
// Invariants:
// - Active implies exactly one live scheduler for the id in this process.
// - Config is only edited while inactive.
// - Stats are owned by the engine; no other component writes them.
type Campaign struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`
	Type           Type   `json:"type" db:"type"`
	Active         bool   `json:"active" db:"active"`

	// Provider names the telephony provider; empty selects the default.
	Provider   string `json:"provider,omitempty" db:"provider"`
	FromNumber string `json:"from_number" db:"from_number"`

	Config Config `json:"config" db:"config"`
	Stats  Stats  `json:"stats" db:"stats"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty" db:"stopped_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

type Type string

const (
	TypeOutbound Type = "outbound"
	// TypeBlended campaigns also take inbound calls on FromNumber.
	TypeBlended Type = "blended"
)

type Config struct {
	MaxConcurrentCalls         int `json:"max_concurrent_calls" validate:"min=1,max=1000"`
	MaxAttemptsPerContact      int `json:"max_attempts_per_contact" validate:"min=1,max=50"`
	TimeBetweenAttemptsMinutes int `json:"time_between_attempts_minutes" validate:"min=0,max=10080"`

	DialingHours DialingHours `json:"dialing_hours"`

	CallbackEnabled    bool               `json:"callback_enabled"`
	VoicemailDetection bool               `json:"voicemail_detection"`
	Compliance         ComplianceSettings `json:"compliance_settings"`

	Script string `json:"script,omitempty" validate:"max=10000"`

	// InboundTargets receive inbound calls for blended campaigns and answered
	// outbound calls, picked by weight.
	InboundTargets []WeightedTarget `json:"inbound_targets,omitempty" validate:"dive"`
}

// DialingHours is a local-time window. Empty start and end mean always open;
// an end before the start wraps past midnight.
type DialingHours struct {
	StartTime string `json:"start_time,omitempty" validate:"omitempty,datetime=15:04"`
	EndTime   string `json:"end_time,omitempty" validate:"omitempty,datetime=15:04"`
	Timezone  string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

type ComplianceSettings struct {
	DNCListEnabled   bool `json:"dnc_list_enabled"`
	ConsentRequired  bool `json:"consent_required"`
	RecordingConsent bool `json:"recording_consent"`
}

type WeightedTarget struct {
	// Target is an E.164 number or sip: URI.
	Target string `json:"target" validate:"required"`
	Weight int    `json:"weight" validate:"min=1"`
}

// Stats are live counters while active and the persisted snapshot otherwise.
type Stats struct {
	TotalContacts          int     `json:"total_contacts"`
	ContactsDialed         int     `json:"contacts_dialed"`
	ContactsConnected      int     `json:"contacts_connected"`
	ContactsCompleted      int     `json:"contacts_completed"`
	AvgCallDurationSeconds float64 `json:"avg_call_duration_seconds"`
	ConversionRate         float64 `json:"conversion_rate"`
	Callbacks              int     `json:"callbacks"`

	InvalidNumbers int `json:"invalid_numbers"`
	DNCExcluded    int `json:"dnc_excluded"`
	ProviderErrors int `json:"provider_errors"`
}

// NewCampaign is the create request.
type NewCampaign struct {
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name" validate:"required,max=200"`
	Type           Type   `json:"type" validate:"omitempty,oneof=outbound blended"`
	Provider       string `json:"provider,omitempty"`
	FromNumber     string `json:"from_number" validate:"required"`
	Config         Config `json:"config"`
}

// TickResult summarizes one scheduling pass.
type TickResult struct {
	// Skipped is set when the pass did nothing: outside_dialing_hours or no_free_slots.
	Skipped string `json:"skipped,omitempty"`

	FreeSlots      int `json:"free_slots"`
	Claimed        int `json:"claimed"`
	Placed         int `json:"placed"`
	Failed         int `json:"failed"`
	InvalidNumbers int `json:"invalid_numbers"`
	DNCExcluded    int `json:"dnc_excluded"`
	// Released counts claims handed back untouched (lookup errors, slot cap).
	Released int `json:"released"`
}

const (
	SkipOutsideHours = "outside_dialing_hours"
	SkipNoFreeSlots  = "no_free_slots"
)

// DispositionConsentMissing marks contacts excluded because consent was
// required and not on file.
const DispositionConsentMissing = "consent_missing"
