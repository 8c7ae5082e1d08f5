package routing

import (
	"context"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/dialer"
	"dialer-platform/internal/telephony"
)

type routerFixture struct {
	router    *Router
	campaigns *dialer.MemoryRepo
	calls     *calls.Manager
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	campaigns := dialer.NewMemoryRepo()
	c := *blended(dialer.WeightedTarget{Target: "+15552223333", Weight: 1})
	c.Config.Script = "Hello from Acme"
	c.Config.VoicemailDetection = true
	if err := campaigns.Create(context.Background(), c); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	mgr := calls.NewManager(calls.Options{Repo: calls.NewMemoryRepo(), Clock: func() time.Time { return routeNow }})
	return routerFixture{
		router:    NewRouter(newTestEngine(), campaigns, mgr),
		campaigns: campaigns,
		calls:     mgr,
	}
}

func TestRouter_ConnectsAndRecordsInboundCall(t *testing.T) {
	f := newRouterFixture(t)
	req := telephony.InboundCallRequest{Provider: "twilio", ProviderCallID: "CA1", From: "+15554443333", To: "(555) 000-1111"}

	res, err := f.router.RouteInboundCall(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != telephony.InboundCallActionConnect || res.ConnectTo != "+15552223333" {
		t.Fatalf("expected connect to target, got %+v", res)
	}
	if res.CallID == "" || res.CampaignID != "c" {
		t.Fatalf("expected recorded call on campaign, got %+v", res)
	}

	call, err := f.calls.Get(context.Background(), res.CallID)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if call.Direction != calls.DirectionInbound || call.Status != calls.StatusRinging {
		t.Fatalf("expected ringing inbound call, got %s %s", call.Direction, call.Status)
	}

	// provider retries the same webhook
	again, err := f.router.RouteInboundCall(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if again.CallID != res.CallID {
		t.Fatalf("expected retried webhook to reuse call %s, got %s", res.CallID, again.CallID)
	}
}

func TestRouter_RejectsUnknownNumber(t *testing.T) {
	f := newRouterFixture(t)

	res, err := f.router.RouteInboundCall(context.Background(), telephony.InboundCallRequest{Provider: "twilio", ProviderCallID: "CA2", To: "+15558887777"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Action != telephony.InboundCallActionReject || res.CallID != "" {
		t.Fatalf("expected reject without call, got %+v", res)
	}

	res, _ = f.router.RouteInboundCall(context.Background(), telephony.InboundCallRequest{To: "not a number"})
	if res.Action != telephony.InboundCallActionReject {
		t.Fatalf("expected reject for unusable number, got %+v", res)
	}
}

func TestRouter_AnswerFor(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	if _, err := f.calls.CreateOutbound(ctx, calls.NewCall{
		OrganizationID: "o",
		CampaignID:     "c",
		ContactID:      "ct1",
		ToNumber:       "+15554443333",
		Provider:       "twilio",
		ProviderCallID: "CA9",
	}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	a, err := f.router.AnswerFor(ctx, "CA9", "human")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.Machine || a.Script != "Hello from Acme" || a.ConnectTo != "+15552223333" {
		t.Fatalf("unexpected answer: %+v", a)
	}

	a, err = f.router.AnswerFor(ctx, "CA9", "machine_end_beep")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !a.Machine {
		t.Fatalf("expected machine hangup with voicemail detection on")
	}

	if _, err := f.router.AnswerFor(ctx, "missing", ""); err == nil {
		t.Fatalf("expected error for unknown call")
	}
}
