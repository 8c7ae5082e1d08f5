package routing

import (
	"context"
	"errors"
	"fmt"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/telephony"
	"dialer-platform/pkg/logger"
)

// CampaignLookup finds the campaign that owns a dialed number.
type CampaignLookup interface {
	Get(ctx context.Context, id string) (dialer.Campaign, error)
	GetByFromNumber(ctx context.Context, number string) (dialer.Campaign, error)
}

// CallRecorder persists the inbound calls the router connects.
type CallRecorder interface {
	CreateInbound(ctx context.Context, n calls.NewCall) (calls.Call, error)
	GetByProviderCallID(ctx context.Context, provider, providerCallID string) (calls.Call, error)
}

// Router adapts the Decision-based RoutingEngine to the provider webhook
// boundary. It implements telephony.InboundRouter and telephony.AnswerResolver.
//
// Provider adapters depend only on those interfaces, which keeps
// provider-specific HTTP/webhook code free of business logic.
type Router struct {
	Engine    *RoutingEngine
	Campaigns CampaignLookup
	Calls     CallRecorder

	// AnswerProvider names the provider whose answer webhook calls AnswerFor.
	AnswerProvider string
}

func NewRouter(engine *RoutingEngine, campaigns CampaignLookup, recorder CallRecorder) *Router {
	return &Router{Engine: engine, Campaigns: campaigns, Calls: recorder, AnswerProvider: "twilio"}
}

// RouteInboundCall maps a blended campaign's number to a destination.
// Connected calls are recorded as inbound calls on that campaign.
func (r *Router) RouteInboundCall(ctx context.Context, req telephony.InboundCallRequest) (telephony.InboundCallResult, error) {
	if r.Engine == nil {
		return telephony.InboundCallResult{}, errors.New("routing: engine is nil")
	}
	log := logger.From(ctx).With("provider", req.Provider, "provider_call_id", req.ProviderCallID)

	to, ok := contacts.NormalizePhone(req.To)
	if !ok {
		log.Warn("inbound call to unusable number", "to", req.To)
		return telephony.InboundCallResult{Action: telephony.InboundCallActionReject}, nil
	}

	var campaign *dialer.Campaign
	c, err := r.Campaigns.GetByFromNumber(ctx, to)
	switch {
	case err == nil:
		campaign = &c
	case errors.Is(err, dialer.ErrNotFound):
	default:
		return telephony.InboundCallResult{}, fmt.Errorf("lookup campaign for %s: %w", to, err)
	}

	d, err := r.Engine.Route(ctx, RouteInput{Campaign: campaign, Inbound: req})
	if err != nil {
		return telephony.InboundCallResult{}, err
	}
	log.Info("inbound call routed", "campaign_id", d.CampaignID, "action", d.Action, "reason", d.Reason)

	res := telephony.InboundCallResult{OrganizationID: d.OrganizationID, CampaignID: d.CampaignID}
	switch d.Action {
	case ActionReject:
		res.Action = telephony.InboundCallActionReject
		return res, nil
	case ActionHangup:
		res.Action = telephony.InboundCallActionHangup
		return res, nil
	case ActionConnect:
		res.Action = telephony.InboundCallActionConnect
		res.ConnectTo = d.ConnectTo
	default:
		return telephony.InboundCallResult{}, errors.New("routing: unknown decision action")
	}

	if campaign == nil || r.Calls == nil {
		return res, nil
	}
	call, err := r.Calls.CreateInbound(ctx, calls.NewCall{
		OrganizationID: campaign.OrganizationID,
		CampaignID:     campaign.ID,
		FromNumber:     req.From,
		ToNumber:       to,
		Provider:       req.Provider,
		ProviderCallID: req.ProviderCallID,
	})
	switch {
	case err == nil:
		res.CallID = call.ID
	case errors.Is(err, calls.ErrDuplicateProviderCall):
		// provider retried the webhook
		if existing, gerr := r.Calls.GetByProviderCallID(ctx, req.Provider, req.ProviderCallID); gerr == nil {
			res.CallID = existing.ID
		}
	default:
		// the caller still gets connected; the row is lost
		log.Error("record inbound call failed", "err", err)
	}
	return res, nil
}

// AnswerFor decides what an answered outbound campaign call hears: the
// campaign script, then a bridge to one of its weighted targets. Machines
// are hung up on when the campaign uses voicemail detection.
func (r *Router) AnswerFor(ctx context.Context, providerCallID, answeredBy string) (telephony.AnsweredCall, error) {
	machine := telephony.AnsweredByMachine(answeredBy)
	call, err := r.Calls.GetByProviderCallID(ctx, r.AnswerProvider, providerCallID)
	if err != nil {
		return telephony.AnsweredCall{Machine: machine}, err
	}
	if call.CampaignID == "" {
		return telephony.AnsweredCall{Machine: machine}, nil
	}
	c, err := r.Campaigns.Get(ctx, call.CampaignID)
	if err != nil {
		return telephony.AnsweredCall{Machine: machine}, err
	}

	a := telephony.AnsweredCall{
		Script:  c.Config.Script,
		Machine: c.Config.VoicemailDetection && machine,
	}
	if r.Engine != nil {
		a.ConnectTo, _ = r.Engine.Pick(c.Config.InboundTargets)
	}
	return a, nil
}
