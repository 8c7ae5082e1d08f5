package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - organization_id is required for tenancy isolation.
// - Actor capture is best-effort; do not block dialing or call control on audit failures.
type Event struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	Type EventType `json:"type" db:"type"`

	// Actor is empty for actions taken by the dialer itself.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`
	CallID     string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCampaignStarted   EventType = "campaign_started"
	EventTypeCampaignStopped   EventType = "campaign_stopped"
	EventTypeCampaignUpdated   EventType = "campaign_updated"
	EventTypeContactsImported  EventType = "contacts_imported"
	EventTypeCallbackScheduled EventType = "callback_scheduled"
	EventTypeCallEnded         EventType = "call_ended"
	EventTypeCallTransferred   EventType = "call_transferred"
	EventTypeRoutingOverride   EventType = "routing_override"
)

// ListFilter narrows a List call. OrganizationID is required; Limit 0 means
// the repository default.
type ListFilter struct {
	OrganizationID string
	CampaignID     string
	Type           EventType
	Limit          int
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)
