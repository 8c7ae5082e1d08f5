package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestParseTwilioInboundCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&Direction=inbound")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}

	req := form.ToInboundCallRequest(time.Unix(1700000000, 0).UTC())
	if req.Provider != "twilio" || req.ProviderCallID != "CA123" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.RawPayload == "" {
		t.Fatalf("expected raw payload")
	}
}

func TestParseTwilioStatusCallback(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	body := url.Values{
		"CallSid":      {"CA9"},
		"CallStatus":   {"no-answer"},
		"CallDuration": {"0"},
		"Timestamp":    {"Mon, 02 Mar 2026 14:59:30 +0000"},
	}
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(body.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ev, err := ParseTwilioStatusCallback(r, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.Signal != SignalNoAnswer || ev.ProviderCallID != "CA9" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.OccurredAt.Equal(now.Add(-30 * time.Second)) {
		t.Fatalf("expected payload timestamp, got %s", ev.OccurredAt)
	}
}

func TestParseTwilioStatusCallback_RequiresSid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallStatus=completed"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseTwilioStatusCallback(r, time.Now()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTwilioSignal(t *testing.T) {
	cases := map[string]Signal{
		"queued":      SignalQueued,
		"initiated":   SignalQueued,
		"ringing":     SignalRinging,
		"in-progress": SignalAnswered,
		"completed":   SignalCompleted,
		"busy":        SignalBusy,
		"no-answer":   SignalNoAnswer,
		"failed":      SignalFailed,
		"canceled":    SignalCanceled,
		"weird":       SignalUnknown,
	}
	for in, want := range cases {
		if got := TwilioSignal(in); got != want {
			t.Fatalf("TwilioSignal(%q): expected %s, got %s", in, want, got)
		}
	}
}

func TestValidateTwilioSignature(t *testing.T) {
	const token = "secret"
	const full = "https://dialer.example.com/webhooks/twilio/status"
	params := url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(full + "CallSidCA1CallStatuscompleted"))
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !ValidateTwilioSignature(token, full, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidateTwilioSignature(token, full+"?x=1", params, sig) {
		t.Fatalf("expected mismatch for different url")
	}
	if ValidateTwilioSignature("", full, params, sig) {
		t.Fatalf("expected empty token to fail")
	}
}
