package dialer

import (
	"context"
	"errors"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/contacts"
	"dialer-platform/pkg/logger"
)

// applyEvent runs on the campaign's event loop. The contact transition and
// the stats update for one terminal call are applied together, under rt.mu.
// With onlyTracked a completion for a call that no longer holds a slot is
// dropped, so a completion seen twice is counted once.
func (e *Engine) applyEvent(ctx context.Context, rt *runtime, ev calls.Event, onlyTracked bool) error {
	call := ev.Call
	log := logger.From(ctx).With("campaign_id", rt.id, "call_id", call.ID, "contact_id", call.ContactID)
	now := e.now()

	switch ev.Kind {
	case calls.EventAnswered:
		ct, err := e.contacts.Get(ctx, call.ContactID)
		if err != nil {
			return err
		}
		if ct.Status != contacts.StatusCalling {
			return nil
		}
		_, err = e.contacts.MarkOutcome(ctx, ct.ID, contacts.Outcome{
			Status: contacts.StatusConnected,
			CallID: call.ID,
		}, now)
		return err

	case calls.EventCompleted:
	default:
		return nil
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if onlyTracked {
		if _, ok := rt.activeCalls[call.ProviderCallID]; !ok {
			return nil
		}
	}
	if call.ProviderCallID != "" {
		delete(rt.activeCalls, call.ProviderCallID)
	}
	e.releaseSlot(ctx, log, rt.id, call.ContactID)

	cfg := rt.campaign.Config
	ct, err := e.contacts.Get(ctx, call.ContactID)
	if err != nil && !errors.Is(err, contacts.ErrNotFound) {
		return err
	}
	callback := false
	if err == nil {
		var o contacts.Outcome
		var route bool
		o, callback, route = routeOutcome(cfg, ct, call, now)
		if route {
			if _, err := e.contacts.MarkOutcome(ctx, ct.ID, o, now); err != nil {
				if !errors.Is(err, contacts.ErrInvalidState) && !errors.Is(err, contacts.ErrNotFound) {
					return err
				}
				log.Debug("contact outcome not applied", "status", o.Status, "err", err)
				callback = false
			}
		}
	}

	applyCompletion(&rt.stats, call, callback)
	if !rt.active {
		// late completion after stop; keep the persisted snapshot current
		e.persistStats(ctx, rt)
	}
	return nil
}

// routeOutcome decides the contact's next state after its call ended. route
// is false when the contact already moved on (callback, dnc, operator edit).
func routeOutcome(cfg Config, ct contacts.Contact, call calls.Call, now time.Time) (o contacts.Outcome, callback, route bool) {
	if ct.Status != contacts.StatusCalling && ct.Status != contacts.StatusConnected {
		return contacts.Outcome{}, false, false
	}
	o.CallID = call.ID
	delay := time.Duration(cfg.TimeBetweenAttemptsMinutes) * time.Minute
	next := now.Add(delay)

	switch {
	case call.Disposition == calls.DispositionDNC:
		o.Status = contacts.StatusDNCExcluded
		o.Disposition = calls.DispositionDNC
		return o, false, true

	case converted(call):
		o.Status = contacts.StatusCompleted
		o.Disposition = call.Disposition
		return o, false, true

	case call.Disposition == calls.DispositionCallback && cfg.CallbackEnabled:
		o.Status = contacts.StatusScheduled
		o.Disposition = calls.DispositionCallback
		o.NextAttemptAt = &next
		return o, true, true

	case call.Status == calls.StatusCompleted && call.AnsweredAt != nil && !retryable(call.Disposition):
		// answered and settled with an operator code such as not_interested
		o.Status = contacts.StatusCompleted
		o.Disposition = call.Disposition
		return o, false, true
	}

	// busy, no answer, failed, voicemail, provider error, callback while disabled
	o.Disposition = call.Disposition
	if o.Disposition == "" {
		o.Disposition = string(call.Status)
	}
	if ct.AttemptCount >= cfg.MaxAttemptsPerContact {
		o.Status = contacts.StatusFailed
		o.Disposition = contacts.DispositionMaxAttempts
		return o, false, true
	}
	o.Status = contacts.StatusPending
	o.NextAttemptAt = &next
	return o, false, true
}

// converted reports whether the call counts toward contactsCompleted.
func converted(c calls.Call) bool {
	if c.AnsweredAt == nil {
		return false
	}
	return c.Disposition == calls.DispositionSuccess || c.Disposition == calls.DispositionCompleted
}

func retryable(disposition string) bool {
	switch disposition {
	case calls.DispositionVoicemail, calls.DispositionProviderError, calls.DispositionCallback,
		calls.DispositionBusy, calls.DispositionNoAnswer, calls.DispositionFailed, calls.DispositionCanceled:
		return true
	}
	return false
}

// applyCompletion folds one finished attempt into s. The duration mean is
// taken over completed (converted) calls only.
func applyCompletion(s *Stats, call calls.Call, callback bool) {
	s.ContactsDialed++
	if call.AnsweredAt != nil {
		s.ContactsConnected++
	}
	if converted(call) {
		s.ContactsCompleted++
		d := 0.0
		if call.DurationSeconds != nil {
			d = float64(*call.DurationSeconds)
		}
		s.AvgCallDurationSeconds += (d - s.AvgCallDurationSeconds) / float64(s.ContactsCompleted)
	}
	if call.Disposition == calls.DispositionProviderError {
		s.ProviderErrors++
	}
	if callback {
		s.Callbacks++
	}
	s.ConversionRate = 0
	if s.ContactsDialed > 0 {
		s.ConversionRate = float64(s.ContactsCompleted) / float64(s.ContactsDialed)
	}
}
