package contacts

import "time"

// Contact is a dialable phone number owned by one campaign.
//
// Invariants:
//   - PhoneNumber is E.164 (see NormalizePhone) and unique per campaign.
//   - AttemptCount never exceeds the campaign's maxAttemptsPerContact; a contact
//     that reaches the cap ends FAILED and is not re-dialed automatically.
//   - dnc_excluded is terminal for the dialer.
type Contact struct {
	ID          string `json:"id" db:"id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	Name        string `json:"name,omitempty" db:"name"`

	Status        Status     `json:"status" db:"status"`
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	Notes         string     `json:"notes,omitempty" db:"notes"`

	// LastDisposition and LastCallID are weak references for reporting.
	LastDisposition string `json:"last_disposition,omitempty" db:"last_disposition"`
	LastCallID      string `json:"last_call_id,omitempty" db:"last_call_id"`

	// Seq is the creation order used as the FIFO tie-break.
	Seq int64 `json:"-" db:"seq"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusCalling     Status = "calling"
	StatusConnected   Status = "connected"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusDNCExcluded Status = "dnc_excluded"
)

// Dispositions the contact store assigns itself.
const (
	DispositionInvalidNumber = "invalid_number"
	DispositionMaxAttempts   = "max_attempts"
)

// Record is one row of an import batch before normalization.
type Record struct {
	PhoneNumber string `json:"phone_number"`
	Name        string `json:"name,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type ImportResult struct {
	Imported   int `json:"imported"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}

// Outcome is the dialer's verdict for a contact after an attempt.
type Outcome struct {
	Status        Status
	Disposition   string
	NextAttemptAt *time.Time
	// Notes replaces the stored notes when non-empty.
	Notes  string
	CallID string
	// RefundAttempt gives back the attempt consumed by MarkDialing, for
	// attempts abandoned before any provider I/O.
	RefundAttempt bool
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// eligible reports whether c may be selected by NextEligible at now.
func (c Contact) eligible(now time.Time) bool {
	switch c.Status {
	case StatusPending:
		return c.NextAttemptAt == nil || !c.NextAttemptAt.After(now)
	case StatusScheduled:
		return c.NextAttemptAt != nil && !c.NextAttemptAt.After(now)
	default:
		return false
	}
}

// dueAt orders eligible contacts; contacts never scheduled are due since creation.
func (c Contact) dueAt() time.Time {
	if c.NextAttemptAt != nil {
		return *c.NextAttemptAt
	}
	return c.CreatedAt
}
