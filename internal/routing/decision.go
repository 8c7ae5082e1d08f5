package routing

// Decision is the provider-agnostic output of the routing engine.
//
// It must contain *only* information required for the provider adapter boundary
// (e.g., Twilio TwiML builder) to execute the decision.
type Decision struct {
	OrganizationID string `json:"organization_id,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty"`

	Action    Action `json:"action"`
	ConnectTo string `json:"connect_to,omitempty"`

	// Reason is optional and intended for internal logs.
	Reason string `json:"reason,omitempty"`
}

type Action string

const (
	ActionReject  Action = "reject"
	ActionConnect Action = "connect"
	ActionHangup  Action = "hangup"
)

// Reasons recorded on decisions.
const (
	ReasonSelected           = "selected"
	ReasonFallback           = "fallback"
	ReasonNoCampaign         = "no_campaign"
	ReasonCampaignInactive   = "campaign_inactive"
	ReasonOutsideHours       = "outside_dialing_hours"
	ReasonNoDestination      = "no_eligible_destination"
	ReasonInvalidNumber      = "invalid_number"
	ReasonHoursMisconfigured = "dialing_hours_invalid"
)
