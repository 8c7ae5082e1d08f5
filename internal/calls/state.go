package calls

import (
	"time"

	"dialer-platform/internal/telephony"
)

// applySignal advances c for a provider signal observed at `at`. It reports
// whether anything changed. Signals for terminal calls are ignored so
// duplicate and late webhooks are harmless.
//
//	queued      -> ringing | in_progress | busy | no_answer | failed
//	ringing     -> in_progress | busy | no_answer | failed
//	in_progress -> completed | failed
//
// An unrecognized signal fails the call with disposition provider_error.
func applySignal(c *Call, sig telephony.Signal, answeredBy string, at time.Time) bool {
	if c.Status.Terminal() {
		return false
	}
	amd := answeredBy != "" && c.AnsweredBy != answeredBy
	if amd {
		c.AnsweredBy = answeredBy
		c.UpdatedAt = at
	}

	switch c.Status {
	case StatusQueued, StatusRinging:
		switch sig {
		case telephony.SignalQueued:
			return amd
		case telephony.SignalRinging:
			if c.Status == StatusRinging {
				return amd
			}
			c.Status = StatusRinging
			c.UpdatedAt = at
			return true
		case telephony.SignalAnswered:
			a := at.UTC()
			c.Status = StatusInProgress
			c.AnsweredAt = &a
			c.UpdatedAt = a
			return true
		case telephony.SignalBusy:
			c.finish(StatusBusy, DispositionBusy, at)
		case telephony.SignalNoAnswer, telephony.SignalCompleted:
			c.finish(StatusNoAnswer, DispositionNoAnswer, at)
		case telephony.SignalCanceled:
			c.finish(StatusNoAnswer, DispositionCanceled, at)
		case telephony.SignalFailed:
			c.finish(StatusFailed, DispositionFailed, at)
		default:
			c.finish(StatusFailed, DispositionProviderError, at)
		}
		return true

	case StatusInProgress:
		switch sig {
		case telephony.SignalQueued, telephony.SignalRinging, telephony.SignalAnswered:
			return amd
		case telephony.SignalCompleted, telephony.SignalBusy, telephony.SignalNoAnswer, telephony.SignalCanceled:
			disposition := DispositionCompleted
			if telephony.AnsweredByMachine(c.AnsweredBy) {
				disposition = DispositionVoicemail
			}
			c.finish(StatusCompleted, disposition, at)
		case telephony.SignalFailed:
			c.finish(StatusFailed, DispositionFailed, at)
		default:
			c.finish(StatusFailed, DispositionProviderError, at)
		}
		return true
	}
	return false
}
