package calls

import "time"

// Call is one phone call, inbound or outbound, campaign-driven or manual.
//
// Invariants:
// - EndTime is set if and only if Status is terminal.
// - DurationSeconds = EndTime - StartTime (never negative) when both are set.
// - At most one non-terminal Call exists per (Provider, ProviderCallID).
// - A terminal Call is final; only Notes and Disposition may be amended.
type Call struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`

	// CampaignID and ContactID are empty for calls outside a campaign.
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	ContactID  string `json:"contact_id,omitempty" db:"contact_id"`

	FromNumber string    `json:"from_number" db:"from_number"`
	ToNumber   string    `json:"to_number" db:"to_number"`
	Direction  Direction `json:"direction" db:"direction"`

	Provider       string `json:"provider,omitempty" db:"provider"`
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`

	Status      Status `json:"status" db:"status"`
	Disposition string `json:"disposition,omitempty" db:"disposition"`
	AgentID     string `json:"agent_id,omitempty" db:"agent_id"`
	AnsweredBy  string `json:"answered_by,omitempty" db:"answered_by"`

	StartTime       time.Time  `json:"start_time" db:"start_time"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds *int       `json:"duration_seconds,omitempty" db:"duration_seconds"`

	Notes     string     `json:"notes,omitempty" db:"notes"`
	Transfers []Transfer `json:"transfers,omitempty" db:"transfers"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether s is one of completed, failed, busy or no_answer.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Dispositions assigned by the lifecycle manager. Operators may store any
// other free-form code.
const (
	DispositionSuccess       = "success"
	DispositionCompleted     = "completed"
	DispositionBusy          = "busy"
	DispositionNoAnswer      = "no_answer"
	DispositionFailed        = "failed"
	DispositionCanceled      = "canceled"
	DispositionVoicemail     = "voicemail"
	DispositionProviderError = "provider_error"
	DispositionCallback      = "callback"
	DispositionDNC           = "dnc"
)

// Transfer records one agent reassignment.
type Transfer struct {
	FromAgentID string    `json:"from_agent_id,omitempty"`
	ToAgentID   string    `json:"to_agent_id"`
	At          time.Time `json:"at"`
}

// Transcript is one immutable line of a call transcript.
type Transcript struct {
	ID         string    `json:"id" db:"id"`
	CallID     string    `json:"call_id" db:"call_id"`
	Role       Role      `json:"role" db:"role"`
	Content    string    `json:"content" db:"content"`
	Timestamp  time.Time `json:"timestamp" db:"timestamp"`
	Confidence float64   `json:"confidence,omitempty" db:"confidence"`
	SpeakerID  string    `json:"speaker_id,omitempty" db:"speaker_id"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// NewCall carries the fields a caller supplies when a Call row is created.
type NewCall struct {
	OrganizationID string `json:"organization_id"`
	CampaignID     string `json:"campaign_id,omitempty"`
	ContactID      string `json:"contact_id,omitempty"`
	FromNumber     string `json:"from_number"`
	ToNumber       string `json:"to_number"`
	Provider       string `json:"provider,omitempty"`
	ProviderCallID string `json:"provider_call_id,omitempty"`
	AgentID        string `json:"agent_id,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

type ListFilter struct {
	OrganizationID string
	CampaignID     string
	AgentID        string
	Direction      Direction
	Status         Status

	// From/To bound StartTime; zero values are open.
	From time.Time
	To   time.Time

	Limit  int
	Offset int
}

func (f ListFilter) match(c Call) bool {
	if f.OrganizationID != "" && c.OrganizationID != f.OrganizationID {
		return false
	}
	if f.CampaignID != "" && c.CampaignID != f.CampaignID {
		return false
	}
	if f.AgentID != "" && c.AgentID != f.AgentID {
		return false
	}
	if f.Direction != "" && c.Direction != f.Direction {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && c.StartTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !c.StartTime.Before(f.To) {
		return false
	}
	return true
}

// finish moves c into terminal status at end, deriving duration.
func (c *Call) finish(status Status, disposition string, end time.Time) {
	c.Status = status
	if c.Disposition == "" || disposition == DispositionProviderError {
		c.Disposition = disposition
	}
	e := end.UTC()
	c.EndTime = &e
	d := int(e.Sub(c.StartTime).Seconds())
	if d < 0 {
		d = 0
	}
	c.DurationSeconds = &d
	c.UpdatedAt = e
}
