package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const twilioDefaultBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// BaseURL overrides the REST origin (tests point it at httptest).
	BaseURL string

	// VoiceURL serves TwiML once the callee answers.
	VoiceURL          string
	StatusCallbackURL string

	HTTPClient *http.Client
}

// TwilioProvider drives the Twilio Programmable Voice REST API.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig) *TwilioProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TwilioProvider{cfg: cfg, client: defaultHTTPClient(cfg.HTTPClient)}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (p *TwilioProvider) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.From == "" || req.To == "" {
		return OutboundCallResult{}, &ProviderError{Provider: p.Name(), Op: "place", Err: errors.New("from and to are required")}
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	if p.cfg.VoiceURL != "" {
		form.Set("Url", p.cfg.VoiceURL)
	}
	if p.cfg.StatusCallbackURL != "" {
		form.Set("StatusCallback", p.cfg.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "Enable")
	}
	if req.Record {
		form.Set("Record", "true")
	}

	var out twilioCall
	if err := p.post(ctx, "place", p.callsURL(""), form, &out); err != nil {
		return OutboundCallResult{}, err
	}
	if out.SID == "" {
		return OutboundCallResult{}, &ProviderError{Provider: p.Name(), Op: "place", Err: errors.New("response missing call sid")}
	}
	return OutboundCallResult{ProviderCallID: out.SID, Signal: TwilioSignal(out.Status)}, nil
}

func (p *TwilioProvider) EndCall(ctx context.Context, providerCallID string) error {
	form := url.Values{}
	form.Set("Status", "completed")
	return p.post(ctx, "end", p.callsURL(providerCallID), form, nil)
}

// TransferCall redirects the live call to a <Dial> of target.
func (p *TwilioProvider) TransferCall(ctx context.Context, providerCallID, target string) error {
	twiml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionConnect, ConnectTo: target})
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: "transfer", Err: err}
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return p.post(ctx, "transfer", p.callsURL(providerCallID), form, nil)
}

func (p *TwilioProvider) QueryStatus(ctx context.Context, providerCallID string) (Signal, error) {
	req, err := http.NewRequest(http.MethodGet, p.callsURL(providerCallID), nil)
	if err != nil {
		return SignalUnknown, &ProviderError{Provider: p.Name(), Op: "status", Err: err}
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	var out twilioCall
	if err := send(ctx, p.client, p.Name(), "status", req, &out); err != nil {
		return SignalUnknown, err
	}
	return TwilioSignal(out.Status), nil
}

func (p *TwilioProvider) callsURL(sid string) string {
	base := p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID) + "/Calls"
	if sid == "" {
		return base + ".json"
	}
	return base + "/" + url.PathEscape(sid) + ".json"
}

func (p *TwilioProvider) post(ctx context.Context, op, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequest(http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	return send(ctx, p.client, p.Name(), op, req, out)
}

// TwilioSignal maps a Twilio CallStatus value to a Signal.
func TwilioSignal(status string) Signal {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "queued", "initiated":
		return SignalQueued
	case "ringing":
		return SignalRinging
	case "in-progress", "answered":
		return SignalAnswered
	case "completed":
		return SignalCompleted
	case "busy":
		return SignalBusy
	case "no-answer":
		return SignalNoAnswer
	case "failed":
		return SignalFailed
	case "canceled":
		return SignalCanceled
	default:
		return SignalUnknown
	}
}
