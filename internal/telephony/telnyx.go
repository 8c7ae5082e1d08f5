package telephony

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

const telnyxDefaultBaseURL = "https://api.telnyx.com"

type TelnyxConfig struct {
	APIKey       string
	ConnectionID string
	BaseURL      string
	WebhookURL   string

	HTTPClient *http.Client
}

// TelnyxProvider drives the Telnyx Call Control v2 API.
type TelnyxProvider struct {
	cfg    TelnyxConfig
	client *http.Client
}

func NewTelnyxProvider(cfg TelnyxConfig) *TelnyxProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = telnyxDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TelnyxProvider{cfg: cfg, client: defaultHTTPClient(cfg.HTTPClient)}
}

func (p *TelnyxProvider) Name() string { return "telnyx" }

type telnyxDialRequest struct {
	ConnectionID string `json:"connection_id"`
	To           string `json:"to"`
	From         string `json:"from"`
	WebhookURL   string `json:"webhook_url,omitempty"`
	ClientState  string `json:"client_state,omitempty"`
	AMD          string `json:"answering_machine_detection,omitempty"`
	Record       string `json:"record,omitempty"`
}

type telnyxCallData struct {
	Data struct {
		CallControlID string `json:"call_control_id"`
		IsAlive       *bool  `json:"is_alive,omitempty"`
	} `json:"data"`
}

func (p *TelnyxProvider) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.From == "" || req.To == "" {
		return OutboundCallResult{}, &ProviderError{Provider: p.Name(), Op: "place", Err: errors.New("from and to are required")}
	}
	body := telnyxDialRequest{
		ConnectionID: p.cfg.ConnectionID,
		To:           req.To,
		From:         req.From,
		WebhookURL:   p.cfg.WebhookURL,
	}
	if len(req.Metadata) > 0 {
		raw, err := json.Marshal(req.Metadata)
		if err != nil {
			return OutboundCallResult{}, &ProviderError{Provider: p.Name(), Op: "place", Err: err}
		}
		body.ClientState = base64.StdEncoding.EncodeToString(raw)
	}
	if req.MachineDetection {
		body.AMD = "detect"
	}
	if req.Record {
		body.Record = "record-from-answer"
	}

	var out telnyxCallData
	if err := p.do(ctx, "place", http.MethodPost, "/v2/calls", body, &out); err != nil {
		return OutboundCallResult{}, err
	}
	if out.Data.CallControlID == "" {
		return OutboundCallResult{}, &ProviderError{Provider: p.Name(), Op: "place", Err: errors.New("response missing call_control_id")}
	}
	return OutboundCallResult{ProviderCallID: out.Data.CallControlID, Signal: SignalQueued}, nil
}

func (p *TelnyxProvider) EndCall(ctx context.Context, providerCallID string) error {
	return p.do(ctx, "end", http.MethodPost, "/v2/calls/"+url.PathEscape(providerCallID)+"/actions/hangup", struct{}{}, nil)
}

func (p *TelnyxProvider) TransferCall(ctx context.Context, providerCallID, target string) error {
	if strings.TrimSpace(target) == "" {
		return &ProviderError{Provider: p.Name(), Op: "transfer", Err: errors.New("target is required")}
	}
	body := map[string]string{"to": target}
	return p.do(ctx, "transfer", http.MethodPost, "/v2/calls/"+url.PathEscape(providerCallID)+"/actions/transfer", body, nil)
}

// QueryStatus only learns whether the leg is alive; a live leg is reported as
// answered and a dead one as completed.
func (p *TelnyxProvider) QueryStatus(ctx context.Context, providerCallID string) (Signal, error) {
	var out telnyxCallData
	if err := p.do(ctx, "status", http.MethodGet, "/v2/calls/"+url.PathEscape(providerCallID), nil, &out); err != nil {
		return SignalUnknown, err
	}
	switch {
	case out.Data.IsAlive == nil:
		return SignalUnknown, nil
	case *out.Data.IsAlive:
		return SignalAnswered, nil
	default:
		return SignalCompleted, nil
	}
}

func (p *TelnyxProvider) do(ctx context.Context, op, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return &ProviderError{Provider: p.Name(), Op: op, Err: err}
		}
	}
	req, err := http.NewRequest(method, p.cfg.BaseURL+path, &buf)
	if err != nil {
		return &ProviderError{Provider: p.Name(), Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return send(ctx, p.client, p.Name(), op, req, out)
}

// TelnyxHangupSignal maps a call.hangup hangup_cause to a Signal.
func TelnyxHangupSignal(cause string) Signal {
	switch strings.ToLower(strings.TrimSpace(cause)) {
	case "normal_clearing", "":
		return SignalCompleted
	case "user_busy":
		return SignalBusy
	case "timeout", "no_answer":
		return SignalNoAnswer
	case "originator_cancel":
		return SignalCanceled
	case "call_rejected", "unallocated_number", "normal_temporary_failure":
		return SignalFailed
	default:
		return SignalUnknown
	}
}
