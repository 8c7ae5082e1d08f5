package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestTwilioProvider_PlaceOutboundCall(t *testing.T) {
	var gotPath, gotTo, gotAMD, gotUser string
	var gotEvents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo = r.PostFormValue("To")
		gotAMD = r.PostFormValue("MachineDetection")
		gotEvents = r.PostForm["StatusCallbackEvent"]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA42","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL, StatusCallbackURL: "https://x/status"})
	res, err := p.PlaceOutboundCall(context.Background(), OutboundCallRequest{From: "+12125550100", To: "+12125550101", MachineDetection: true})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "CA42" || res.Signal != SignalQueued {
		t.Fatalf("unexpected result: %+v", res)
	}
	if gotPath != "/2010-04-01/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotUser != "AC1" || gotTo != "+12125550101" || gotAMD != "Enable" {
		t.Fatalf("unexpected request: user=%q to=%q amd=%q", gotUser, gotTo, gotAMD)
	}
	if len(gotEvents) != 4 {
		t.Fatalf("expected 4 status callback events, got %v", gotEvents)
	}
}

func TestTwilioProvider_ErrorsAreProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Authenticate"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "bad", BaseURL: srv.URL})
	_, err := p.PlaceOutboundCall(context.Background(), OutboundCallRequest{From: "+1", To: "+2"})
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized || perr.Op != "place" {
		t.Fatalf("unexpected provider error: %#v", err)
	}

	if err := p.EndCall(context.Background(), "CA1"); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider from end, got %v", err)
	}
}

func TestTwilioProvider_TransferAndStatus(t *testing.T) {
	var twiml string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"sid":"CA7","status":"in-progress"}`))
			return
		}
		_ = r.ParseForm()
		twiml = r.PostFormValue("Twiml")
		_, _ = w.Write([]byte(`{"sid":"CA7","status":"in-progress"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{AccountSID: "AC1", AuthToken: "tok", BaseURL: srv.URL})
	if err := p.TransferCall(context.Background(), "CA7", "+12125550199"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(twiml, "<Number>+12125550199</Number>") {
		t.Fatalf("expected dial twiml, got %q", twiml)
	}
	sig, err := p.QueryStatus(context.Background(), "CA7")
	if err != nil || sig != SignalAnswered {
		t.Fatalf("expected answered, got %s / %v", sig, err)
	}
}

func TestTelnyxProvider_PlaceAndHangup(t *testing.T) {
	var dial map[string]any
	var paths []string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		auth = r.Header.Get("Authorization")
		if r.URL.Path == "/v2/calls" {
			_ = json.NewDecoder(r.Body).Decode(&dial)
			_, _ = w.Write([]byte(`{"data":{"call_control_id":"v3:xyz"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"result":"ok"}}`))
	}))
	defer srv.Close()

	p := NewTelnyxProvider(TelnyxConfig{APIKey: "KEY", ConnectionID: "conn-1", BaseURL: srv.URL})
	res, err := p.PlaceOutboundCall(context.Background(), OutboundCallRequest{
		From: "+12125550100", To: "+12125550101", Record: true,
		Metadata: map[string]string{"campaign_id": "c1"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.ProviderCallID != "v3:xyz" {
		t.Fatalf("unexpected id %q", res.ProviderCallID)
	}
	if dial["connection_id"] != "conn-1" || dial["record"] != "record-from-answer" || dial["client_state"] == nil {
		t.Fatalf("unexpected dial body: %v", dial)
	}
	if auth != "Bearer KEY" {
		t.Fatalf("expected bearer auth, got %q", auth)
	}

	if err := p.EndCall(context.Background(), "v3:xyz"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got := paths[len(paths)-1]; got != "/v2/calls/v3:xyz/actions/hangup" {
		t.Fatalf("unexpected hangup path %q", got)
	}
}

func TestRegistry(t *testing.T) {
	tw := NewTwilioProvider(TwilioConfig{})
	tx := NewTelnyxProvider(TelnyxConfig{})
	r := NewRegistry("twilio", tw, tx)

	p, err := r.Get("")
	if err != nil || p.Name() != "twilio" {
		t.Fatalf("expected default twilio, got %v / %v", p, err)
	}
	p, err = r.Get("telnyx")
	if err != nil || p.Name() != "telnyx" {
		t.Fatalf("expected telnyx, got %v / %v", p, err)
	}
	if _, err := r.Get("plivo"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "telnyx" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestRateLimited_WaitHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"queued"}`))
	}))
	defer srv.Close()

	lim := rate.NewLimiter(rate.Every(time.Hour), 1)
	p := RateLimited(NewTwilioProvider(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL}), lim)
	req := OutboundCallRequest{From: "+12125550100", To: "+12125550101"}

	if _, err := p.PlaceOutboundCall(context.Background(), req); err != nil {
		t.Fatalf("expected burst placement to pass, got %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.PlaceOutboundCall(ctx, req); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected throttled placement to fail as provider error, got %v", err)
	}
	if p.Name() != "twilio" {
		t.Fatalf("expected wrapped name, got %q", p.Name())
	}
}
