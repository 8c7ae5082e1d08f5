package calls

import (
	"testing"
	"time"

	"dialer-platform/internal/telephony"
)

func TestApplySignal(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	at := start.Add(45 * time.Second)

	cases := []struct {
		name        string
		from        Status
		answeredBy  string
		sig         telephony.Signal
		want        Status
		disposition string
		changed     bool
	}{
		{"queued rings", StatusQueued, "", telephony.SignalRinging, StatusRinging, "", true},
		{"queued answered directly", StatusQueued, "", telephony.SignalAnswered, StatusInProgress, "", true},
		{"ringing answered", StatusRinging, "", telephony.SignalAnswered, StatusInProgress, "", true},
		{"ringing busy", StatusRinging, "", telephony.SignalBusy, StatusBusy, DispositionBusy, true},
		{"ringing no answer", StatusRinging, "", telephony.SignalNoAnswer, StatusNoAnswer, DispositionNoAnswer, true},
		{"ringing failed", StatusRinging, "", telephony.SignalFailed, StatusFailed, DispositionFailed, true},
		{"ringing unknown", StatusRinging, "", telephony.SignalUnknown, StatusFailed, DispositionProviderError, true},
		{"ringing canceled", StatusRinging, "", telephony.SignalCanceled, StatusNoAnswer, DispositionCanceled, true},
		{"ringing repeated", StatusRinging, "", telephony.SignalRinging, StatusRinging, "", false},
		{"in progress completes", StatusInProgress, "", telephony.SignalCompleted, StatusCompleted, DispositionCompleted, true},
		{"voicemail completes", StatusInProgress, "machine_end_beep", telephony.SignalCompleted, StatusCompleted, DispositionVoicemail, true},
		{"in progress unknown", StatusInProgress, "", telephony.SignalUnknown, StatusFailed, DispositionProviderError, true},
		{"in progress re-answer", StatusInProgress, "", telephony.SignalAnswered, StatusInProgress, "", false},
		{"terminal ignores", StatusCompleted, "", telephony.SignalFailed, StatusCompleted, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Call{Status: tc.from, StartTime: start, AnsweredBy: tc.answeredBy}
			changed := applySignal(&c, tc.sig, "", at)
			if changed != tc.changed {
				t.Fatalf("expected changed=%v, got %v", tc.changed, changed)
			}
			if c.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, c.Status)
			}
			if c.Disposition != tc.disposition {
				t.Fatalf("expected disposition %q, got %q", tc.disposition, c.Disposition)
			}
			if c.Status.Terminal() && tc.changed {
				if c.EndTime == nil || c.DurationSeconds == nil || *c.DurationSeconds != 45 {
					t.Fatalf("expected end time and 45s duration, got %v / %v", c.EndTime, c.DurationSeconds)
				}
			}
			if !c.Status.Terminal() && c.EndTime != nil {
				t.Fatalf("expected no end time on live call")
			}
		})
	}
}

func TestApplySignal_MachineDetectionOnLiveCall(t *testing.T) {
	c := Call{Status: StatusInProgress}
	if !applySignal(&c, telephony.SignalAnswered, "machine_start", time.Now()) {
		t.Fatalf("expected answered_by update to count as a change")
	}
	if c.AnsweredBy != "machine_start" || c.Status != StatusInProgress {
		t.Fatalf("unexpected call: %+v", c)
	}
}

func TestFinish_ClampsNegativeDuration(t *testing.T) {
	start := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	c := Call{Status: StatusInProgress, StartTime: start}
	c.finish(StatusCompleted, DispositionCompleted, start.Add(-3*time.Second))
	if c.DurationSeconds == nil || *c.DurationSeconds != 0 {
		t.Fatalf("expected clamped duration 0, got %v", c.DurationSeconds)
	}
}
