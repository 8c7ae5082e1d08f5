package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/compliance"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"

	"golang.org/x/sync/errgroup"
)

type dialResult int

const (
	dialPlaced dialResult = iota
	dialFailed
	dialInvalid
	dialExcluded
	dialReleased
)

// Metadata keys attached to every placement so provider events can be traced
// back to the campaign.
const (
	MetaCampaignID     = "campaign_id"
	MetaContactID      = "contact_id"
	MetaOrganizationID = "organization_id"
)

// tick is one scheduling pass. Contacts are claimed sequentially before any
// provider I/O; placements then run concurrently, at most freeSlots at once.
// Per-contact failures are recorded as outcomes and never abort the pass.
func (e *Engine) tick(ctx context.Context, rt *runtime) (TickResult, error) {
	rt.tickMu.Lock()
	defer rt.tickMu.Unlock()

	rt.mu.Lock()
	if !rt.active {
		rt.mu.Unlock()
		return TickResult{}, ErrNotActive
	}
	c := rt.campaign
	rt.mu.Unlock()

	// A stop must not cut placements already in flight.
	ctx = context.WithoutCancel(ctx)
	log := logger.From(ctx).With("campaign_id", c.ID)

	e.sweepStale(ctx, log, rt)

	rt.mu.Lock()
	busy := len(rt.activeCalls)
	rt.mu.Unlock()
	now := e.now()

	open, err := c.Config.DialingHours.Contains(now)
	if err != nil {
		log.Error("dialing hours unusable; skipping pass", "err", err)
		return TickResult{Skipped: SkipOutsideHours}, nil
	}
	if !open {
		return TickResult{Skipped: SkipOutsideHours}, nil
	}

	free := c.Config.MaxConcurrentCalls - busy
	if free <= 0 {
		return TickResult{Skipped: SkipNoFreeSlots}, nil
	}
	res := TickResult{FreeSlots: free}

	eligible, err := e.contacts.NextEligible(ctx, c.ID, now, free)
	if err != nil {
		return res, fmt.Errorf("next eligible contacts: %w", err)
	}

	claimed := make([]claim, 0, len(eligible))
	for _, ct := range eligible {
		got, err := e.contacts.MarkDialing(ctx, ct.ID, c.Config.MaxAttemptsPerContact, now)
		switch {
		case err == nil:
			claimed = append(claimed, claim{contact: got, before: ct})
		case errors.Is(err, contacts.ErrAttemptsExhausted):
			log.Debug("contact exhausted at claim", "contact_id", ct.ID, "attempts", got.AttemptCount)
		case errors.Is(err, contacts.ErrNotClaimable):
			log.Debug("contact already claimed", "contact_id", ct.ID)
		default:
			log.Warn("claim contact failed", "contact_id", ct.ID, "err", err)
		}
	}
	res.Claimed = len(claimed)
	if len(claimed) == 0 {
		return res, nil
	}

	results := make([]dialResult, len(claimed))
	var g errgroup.Group
	g.SetLimit(free)
	for i, cl := range claimed {
		g.Go(func() error {
			results[i] = e.dial(ctx, log.With("contact_id", cl.contact.ID), rt, c, cl)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case dialPlaced:
			res.Placed++
		case dialFailed:
			res.Failed++
		case dialInvalid:
			res.InvalidNumbers++
		case dialExcluded:
			res.DNCExcluded++
		case dialReleased:
			res.Released++
		}
	}
	return res, nil
}

// claim pairs a claimed contact with its state before MarkDialing, which a
// release restores.
type claim struct {
	contact contacts.Contact
	before  contacts.Contact
}

// dial takes one claimed contact through compliance and placement.
func (e *Engine) dial(ctx context.Context, log *slog.Logger, rt *runtime, c Campaign, cl claim) dialResult {
	now := e.now()
	ct := cl.contact

	number, ok := contacts.NormalizePhone(ct.PhoneNumber)
	if !ok {
		e.settle(ctx, log, rt, ct, contacts.Outcome{
			Status:      contacts.StatusFailed,
			Disposition: contacts.DispositionInvalidNumber,
		}, func(s *Stats) { s.InvalidNumbers++ })
		return dialInvalid
	}

	switch err := e.screen(ctx, c, number); {
	case err == nil:
	case errors.Is(err, compliance.ErrDNCExcluded):
		e.settle(ctx, log, rt, ct, contacts.Outcome{
			Status:      contacts.StatusDNCExcluded,
			Disposition: calls.DispositionDNC,
		}, func(s *Stats) { s.DNCExcluded++ })
		return dialExcluded
	case errors.Is(err, compliance.ErrConsentMissing):
		e.settle(ctx, log, rt, ct, contacts.Outcome{
			Status:      contacts.StatusDNCExcluded,
			Disposition: DispositionConsentMissing,
		}, func(s *Stats) { s.DNCExcluded++ })
		return dialExcluded
	default:
		log.Warn("compliance lookup failed; releasing contact", "err", err)
		e.release(ctx, log, cl.before)
		return dialReleased
	}

	record := false
	if c.Config.Compliance.RecordingConsent {
		ok, err := e.consent.HasRecordingConsent(ctx, c.ID, number)
		if err != nil {
			log.Warn("recording consent lookup failed; not recording", "err", err)
		}
		record = err == nil && ok
	}

	if e.slots != nil {
		ok, err := e.slots.Acquire(ctx, c.ID, ct.ID, c.Config.MaxConcurrentCalls)
		if err != nil || !ok {
			log.Warn("campaign slot unavailable; releasing contact", "err", err)
			e.release(ctx, log, cl.before)
			return dialReleased
		}
	}

	n := calls.NewCall{
		OrganizationID: c.OrganizationID,
		CampaignID:     c.ID,
		ContactID:      ct.ID,
		FromNumber:     c.FromNumber,
		ToNumber:       number,
		Provider:       c.Provider,
	}

	p, err := e.providers.Get(c.Provider)
	if err != nil {
		e.placementFailed(ctx, log, rt, n, err)
		return dialFailed
	}
	n.Provider = p.Name()

	placeCtx, cancel := context.WithTimeout(ctx, e.placementTimeout)
	placed, err := p.PlaceOutboundCall(placeCtx, telephony.OutboundCallRequest{
		From: c.FromNumber,
		To:   number,
		Metadata: map[string]string{
			MetaCampaignID:     c.ID,
			MetaContactID:      ct.ID,
			MetaOrganizationID: c.OrganizationID,
		},
		MachineDetection: c.Config.VoicemailDetection,
		Record:           record,
	})
	cancel()
	if err != nil {
		e.placementFailed(ctx, log, rt, n, err)
		return dialFailed
	}

	// Registered before the call row exists so a terminal event, which can
	// only be matched once the row is written, always finds the entry.
	rt.mu.Lock()
	rt.activeCalls[placed.ProviderCallID] = activeCall{contactID: ct.ID, startedAt: now}
	rt.mu.Unlock()

	n.ProviderCallID = placed.ProviderCallID
	call, err := e.calls.CreateOutbound(ctx, n)
	if err != nil {
		rt.mu.Lock()
		delete(rt.activeCalls, placed.ProviderCallID)
		rt.mu.Unlock()
		log.Error("record outbound call failed; hanging up", "provider_call_id", placed.ProviderCallID, "err", err)
		if endErr := p.EndCall(ctx, placed.ProviderCallID); endErr != nil {
			log.Warn("hang up unrecorded call failed", "provider_call_id", placed.ProviderCallID, "err", endErr)
		}
		e.placementFailed(ctx, log, rt, n, err)
		return dialFailed
	}

	rt.mu.Lock()
	if ac, ok := rt.activeCalls[placed.ProviderCallID]; ok {
		ac.callID = call.ID
		rt.activeCalls[placed.ProviderCallID] = ac
	}
	rt.mu.Unlock()
	return dialPlaced
}

// placementFailed records the FAILED provider_error call. Its completion
// event drives the contact back to pending or failed.
func (e *Engine) placementFailed(ctx context.Context, log *slog.Logger, rt *runtime, n calls.NewCall, cause error) {
	e.releaseSlot(ctx, log, n.CampaignID, n.ContactID)
	log.Warn("placement failed", "provider", n.Provider, "err", cause)
	if _, err := e.calls.RecordPlacementFailure(ctx, n, cause); err != nil {
		log.Error("record placement failure failed", "err", err)
		// no event was published; settle the contact through the loop anyway
		synthetic := calls.Call{
			OrganizationID: n.OrganizationID,
			CampaignID:     n.CampaignID,
			ContactID:      n.ContactID,
			Direction:      calls.DirectionOutbound,
			Provider:       n.Provider,
			Status:         calls.StatusFailed,
			Disposition:    calls.DispositionProviderError,
		}
		if err := rt.submit(ctx, e.ctx.Done(), calls.Event{Kind: calls.EventCompleted, Call: synthetic}); err != nil {
			log.Error("settle failed placement", "err", err)
		}
	}
}

// settle writes a no-call outcome and its stats together.
func (e *Engine) settle(ctx context.Context, log *slog.Logger, rt *runtime, ct contacts.Contact, o contacts.Outcome, count func(*Stats)) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, err := e.contacts.MarkOutcome(ctx, ct.ID, o, e.now()); err != nil {
		log.Error("mark contact outcome failed", "status", o.Status, "err", err)
		return
	}
	count(&rt.stats)
	if !rt.active {
		e.persistStats(ctx, rt)
	}
}

// release hands a claim back untouched, refunding its attempt. before is the
// contact as selected, so a due callback stays scheduled.
func (e *Engine) release(ctx context.Context, log *slog.Logger, before contacts.Contact) {
	o := contacts.Outcome{
		Status:        before.Status,
		NextAttemptAt: before.NextAttemptAt,
		RefundAttempt: true,
	}
	if _, err := e.contacts.MarkOutcome(ctx, before.ID, o, e.now()); err != nil {
		log.Error("release contact failed", "err", err)
	}
}

func (e *Engine) releaseSlot(ctx context.Context, log *slog.Logger, campaignID, contactID string) {
	if e.slots == nil || contactID == "" {
		return
	}
	if err := e.slots.Release(ctx, campaignID, contactID); err != nil {
		log.Warn("release campaign slot failed", "err", err)
	}
}

// screen runs the campaign's compliance gates for a normalized number. It
// returns compliance.ErrDNCExcluded or compliance.ErrConsentMissing when the
// number may not be called, and the lookup error when a gate cannot decide.
func (e *Engine) screen(ctx context.Context, c Campaign, number string) error {
	if c.Config.Compliance.DNCListEnabled && e.dnc != nil {
		excluded, err := e.dnc.IsExcluded(ctx, number)
		if err != nil {
			return fmt.Errorf("dnc lookup: %w", err)
		}
		if excluded {
			return compliance.ErrDNCExcluded
		}
	}
	if c.Config.Compliance.ConsentRequired {
		ok, err := e.consent.HasCallConsent(ctx, c.ID, number)
		if err != nil {
			return fmt.Errorf("consent lookup: %w", err)
		}
		if !ok {
			return compliance.ErrConsentMissing
		}
	}
	return nil
}
