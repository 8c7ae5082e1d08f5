package telephony

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type telnyxWebhook struct {
	Data struct {
		EventType  string    `json:"event_type"`
		ID         string    `json:"id"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			CallControlID string    `json:"call_control_id"`
			From          string    `json:"from"`
			To            string    `json:"to"`
			HangupCause   string    `json:"hangup_cause"`
			Result        string    `json:"result"`
			StartTime     time.Time `json:"start_time"`
			EndTime       time.Time `json:"end_time"`
		} `json:"payload"`
	} `json:"data"`
}

// ErrIgnoredEvent marks webhook types that carry no call-progress signal.
var ErrIgnoredEvent = errors.New("telephony: event ignored")

// ParseTelnyxEvent converts a Call Control webhook body into a ProviderEvent.
// Unrelated event types return ErrIgnoredEvent.
func ParseTelnyxEvent(body []byte, now time.Time) (ProviderEvent, error) {
	var w telnyxWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return ProviderEvent{}, fmt.Errorf("telephony: decode telnyx webhook: %w", err)
	}
	p := w.Data.Payload
	if p.CallControlID == "" {
		return ProviderEvent{}, errors.New("telephony: call_control_id is required")
	}

	ev := ProviderEvent{
		Provider:       "telnyx",
		ProviderCallID: p.CallControlID,
		RawStatus:      w.Data.EventType,
		From:           p.From,
		To:             p.To,
		OccurredAt:     now.UTC(),
	}
	if !w.Data.OccurredAt.IsZero() {
		ev.OccurredAt = w.Data.OccurredAt.UTC()
	}

	switch w.Data.EventType {
	case "call.initiated":
		ev.Signal = SignalQueued
	case "call.ringing":
		ev.Signal = SignalRinging
	case "call.answered":
		ev.Signal = SignalAnswered
	case "call.hangup":
		ev.Signal = TelnyxHangupSignal(p.HangupCause)
		ev.RawStatus = w.Data.EventType + ":" + p.HangupCause
		if !p.StartTime.IsZero() && p.EndTime.After(p.StartTime) {
			ev.DurationSeconds = int(p.EndTime.Sub(p.StartTime).Seconds())
		}
	case "call.machine.detection.ended":
		ev.Signal = SignalAnswered
		ev.AnsweredBy = p.Result
	default:
		return ProviderEvent{}, ErrIgnoredEvent
	}
	return ev, nil
}
