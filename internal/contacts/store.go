package contacts

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("contacts: not found")
	ErrNotClaimable      = errors.New("contacts: contact is not pending or scheduled")
	ErrAttemptsExhausted = errors.New("contacts: max attempts reached")
	ErrInvalidState      = errors.New("contacts: invalid state for operation")
)

// Store owns Contact records for all campaigns.
//
// MarkDialing is the single-flight claim: it must be atomic per contact so two
// concurrent claimers never both succeed.
type Store interface {
	Import(ctx context.Context, campaignID string, records []Record) (ImportResult, error)
	NextEligible(ctx context.Context, campaignID string, now time.Time, limit int) ([]Contact, error)
	MarkDialing(ctx context.Context, contactID string, maxAttempts int, now time.Time) (Contact, error)
	MarkOutcome(ctx context.Context, contactID string, outcome Outcome, now time.Time) (Contact, error)
	ScheduleCallback(ctx context.Context, contactID string, when time.Time, notes string, now time.Time) (Contact, error)

	Get(ctx context.Context, contactID string) (Contact, error)
	Count(ctx context.Context, campaignID string) (int, error)
	List(ctx context.Context, campaignID string, f ListFilter) ([]Contact, error)
}

// applyOutcome mutates c in place. Shared by every Store implementation.
func applyOutcome(c *Contact, o Outcome, now time.Time) error {
	if c.Status == StatusDNCExcluded && o.Status != StatusDNCExcluded {
		return ErrInvalidState
	}
	if o.Status == "" {
		return ErrInvalidState
	}
	c.Status = o.Status
	c.NextAttemptAt = o.NextAttemptAt
	if o.Disposition != "" {
		c.LastDisposition = o.Disposition
	}
	if o.Notes != "" {
		c.Notes = o.Notes
	}
	if o.CallID != "" {
		c.LastCallID = o.CallID
	}
	if o.RefundAttempt && c.AttemptCount > 0 {
		c.AttemptCount--
	}
	c.UpdatedAt = now
	return nil
}

func applyCallback(c *Contact, when time.Time, notes string, now time.Time) error {
	switch c.Status {
	case StatusDNCExcluded, StatusCompleted:
		return ErrInvalidState
	}
	w := when.UTC()
	c.Status = StatusScheduled
	c.NextAttemptAt = &w
	if notes != "" {
		c.Notes = notes
	}
	c.UpdatedAt = now
	return nil
}
