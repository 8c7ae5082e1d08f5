package dialer

import (
	"context"
	"fmt"
	"log/slog"

	"dialer-platform/internal/calls"
	"dialer-platform/pkg/logger"
)

var liveStatuses = []calls.Status{calls.StatusQueued, calls.StatusRinging, calls.StatusInProgress}

// seedActiveCalls loads the campaign's live outbound calls from the call
// store into rt.activeCalls, so a runtime built after a restart counts the
// calls a previous process placed against the cap. Entries already tracked
// are kept.
func (e *Engine) seedActiveCalls(ctx context.Context, rt *runtime) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	seeded := 0
	for _, s := range liveStatuses {
		live, err := e.calls.List(ctx, calls.ListFilter{
			CampaignID: rt.id,
			Direction:  calls.DirectionOutbound,
			Status:     s,
		})
		if err != nil {
			return fmt.Errorf("list %s calls: %w", s, err)
		}
		for _, c := range live {
			if c.ProviderCallID == "" || c.ContactID == "" {
				continue
			}
			if _, ok := rt.activeCalls[c.ProviderCallID]; ok {
				continue
			}
			rt.activeCalls[c.ProviderCallID] = activeCall{contactID: c.ContactID, callID: c.ID, startedAt: c.StartTime}
			seeded++
		}
	}
	if seeded > 0 {
		logger.From(ctx).Info("live calls restored", "campaign_id", rt.id, "count", seeded)
	}
	return nil
}

type quietCall struct {
	providerCallID string
	callID         string
}

// sweepStale polls the provider for tracked calls that have been quiet for
// staleCallAfter and settles the ones reported finished. A terminal webhook
// that was lost, or that arrived before the call row existed, would otherwise
// hold its slot forever. Caller holds rt.tickMu.
func (e *Engine) sweepStale(ctx context.Context, log *slog.Logger, rt *runtime) {
	now := e.now()

	rt.mu.Lock()
	var due []quietCall
	for pcid, ac := range rt.activeCalls {
		if ac.callID == "" {
			continue
		}
		last := ac.startedAt
		if ac.checkedAt.After(last) {
			last = ac.checkedAt
		}
		if now.Sub(last) < e.staleCallAfter {
			continue
		}
		ac.checkedAt = now
		rt.activeCalls[pcid] = ac
		due = append(due, quietCall{providerCallID: pcid, callID: ac.callID})
	}
	rt.mu.Unlock()

	for _, q := range due {
		qctx, cancel := context.WithTimeout(ctx, e.placementTimeout)
		call, err := e.calls.Refresh(qctx, q.callID)
		cancel()
		if err != nil {
			log.Warn("refresh quiet call failed", "call_id", q.callID, "provider_call_id", q.providerCallID, "err", err)
			continue
		}
		if !call.Status.Terminal() {
			continue
		}
		// Refresh has published the completion unless the row was already
		// terminal; a second application is dropped.
		if err := rt.submitTracked(ctx, e.ctx.Done(), calls.Event{Kind: calls.EventCompleted, Call: call}); err != nil {
			log.Error("settle quiet call failed", "call_id", q.callID, "err", err)
			continue
		}
		log.Info("quiet call settled from provider status", "call_id", q.callID, "status", call.Status)
	}
}
