package routing

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"dialer-platform/internal/dialer"
	"dialer-platform/internal/telephony"
)

// RoutingEngine evaluates routing for inbound calls on blended campaigns.
//
// Priority:
//  1. Admin override
//  2. Campaign rules (active, inside dialing hours)
//  3. Weighted destination selection
//
// Return routing decision only. No side effects (no DB writes, no provider calls).
type RoutingEngine struct {
	Overrides *AdminOverrideEngine

	// Fallback is dialed when no campaign owns the dialed number. Empty rejects.
	Fallback string

	Now func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type RouteInput struct {
	// Campaign is the blended campaign answering on the dialed number, or nil.
	Campaign *dialer.Campaign
	Inbound  telephony.InboundCallRequest
}

func NewRoutingEngine(rng *rand.Rand) *RoutingEngine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RoutingEngine{rng: rng, Now: time.Now}
}

func (e *RoutingEngine) Route(ctx context.Context, in RouteInput) (Decision, error) {
	c := in.Campaign
	if c == nil {
		if e.Fallback != "" {
			return Decision{Action: ActionConnect, ConnectTo: e.Fallback, Reason: ReasonFallback}, nil
		}
		return Decision{Action: ActionReject, Reason: ReasonNoCampaign}, nil
	}
	base := Decision{OrganizationID: c.OrganizationID, CampaignID: c.ID}

	// 1) Silent, expiry-based overrides
	if e.Overrides != nil {
		d, applied, err := e.Overrides.Decide(ctx, c.OrganizationID, c.ID, in.Inbound)
		if err != nil {
			return Decision{}, err
		}
		if applied {
			return d, nil
		}
	}

	// 2) Campaign rules
	if !c.Active {
		return reject(base, ReasonCampaignInactive), nil
	}
	open, err := c.Config.DialingHours.Contains(e.now())
	if err != nil {
		return reject(base, ReasonHoursMisconfigured), nil
	}
	if !open {
		return reject(base, ReasonOutsideHours), nil
	}

	// 3) Weighted destination selection
	if dest, ok := e.Pick(c.Config.InboundTargets); ok {
		base.Action = ActionConnect
		base.ConnectTo = dest
		base.Reason = ReasonSelected
		return base, nil
	}
	return reject(base, ReasonNoDestination), nil
}

func reject(d Decision, reason string) Decision {
	d.Action = ActionReject
	d.Reason = reason
	return d
}

func (e *RoutingEngine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

// Pick chooses a target with probability proportional to its weight.
// Targets with a non-positive weight are never picked.
func (e *RoutingEngine) Pick(targets []dialer.WeightedTarget) (string, bool) {
	var total int
	for _, t := range targets {
		if t.Weight <= 0 {
			continue
		}
		total += t.Weight
	}
	if total <= 0 {
		return "", false
	}

	e.mu.Lock()
	if e.rng == nil {
		e.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	r := e.rng.Intn(total) // 0..total-1
	e.mu.Unlock()

	var acc int
	for _, t := range targets {
		if t.Weight <= 0 {
			continue
		}
		acc += t.Weight
		if r < acc {
			return t.Target, true
		}
	}
	return "", false
}
