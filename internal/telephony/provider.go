package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider is the vendor-agnostic call-control capability the dialer and the
// call lifecycle manager depend on.
//
// Rules:
// - No vendor HTTP calls outside telephony adapters.
// - Every method is safe to retry once; adapters must not assume exactly-once delivery.
// - Failures are returned as *ProviderError so callers can match ErrProvider.
type Provider interface {
	Name() string

	PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error)
	EndCall(ctx context.Context, providerCallID string) error
	TransferCall(ctx context.Context, providerCallID, target string) error

	// QueryStatus is a best-effort poll for when push events are unavailable.
	QueryStatus(ctx context.Context, providerCallID string) (Signal, error)
}

type OutboundCallRequest struct {
	From string `json:"from"`
	To   string `json:"to"`

	// Metadata is echoed back by providers that support custom call data.
	Metadata map[string]string `json:"metadata,omitempty"`

	MachineDetection bool `json:"machine_detection,omitempty"`
	Record           bool `json:"record,omitempty"`
}

type OutboundCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
	Signal         Signal `json:"signal"`
}

// Signal is a call-progress indication normalized across providers.
type Signal string

const (
	SignalQueued    Signal = "queued"
	SignalRinging   Signal = "ringing"
	SignalAnswered  Signal = "answered"
	SignalCompleted Signal = "completed"
	SignalBusy      Signal = "busy"
	SignalNoAnswer  Signal = "no_answer"
	SignalFailed    Signal = "failed"
	SignalCanceled  Signal = "canceled"
	SignalUnknown   Signal = "unknown"
)

// ProviderEvent is a push notification from a provider, already parsed out of
// its wire format.
type ProviderEvent struct {
	Provider       string `json:"provider"`
	ProviderCallID string `json:"provider_call_id"`

	Signal Signal `json:"signal"`
	// RawStatus is the provider's own status string, kept for logs.
	RawStatus string `json:"raw_status,omitempty"`

	// DurationSeconds is the provider-reported duration, 0 if absent.
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AnsweredBy      string `json:"answered_by,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}

// Terminal reports whether the signal ends the call.
func (s Signal) Terminal() bool {
	switch s {
	case SignalCompleted, SignalBusy, SignalNoAnswer, SignalFailed, SignalCanceled:
		return true
	default:
		return false
	}
}

// InboundCallRequest represents an inbound call offered by a provider.
type InboundCallRequest struct {
	Provider       string `json:"provider"`
	ProviderCallID string `json:"provider_call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

// InboundCallResult is the routing verdict rendered back to the provider.
type InboundCallResult struct {
	OrganizationID string `json:"organization_id,omitempty"`
	CampaignID     string `json:"campaign_id,omitempty"`
	CallID         string `json:"call_id,omitempty"`

	Action InboundCallAction `json:"action"`

	// ConnectTo is used when Action == "connect".
	ConnectTo string `json:"connect_to,omitempty"`
}

type InboundCallAction string

const (
	InboundCallActionReject  InboundCallAction = "reject"
	InboundCallActionConnect InboundCallAction = "connect"
	InboundCallActionHangup  InboundCallAction = "hangup"
)

var (
	ErrProvider        = errors.New("telephony: provider error")
	ErrUnknownProvider = errors.New("telephony: unknown provider")
)

// ProviderError wraps a transport, auth or vendor failure.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("telephony: %s %s: status %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("telephony: %s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }
