package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioInboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	CallerName    string
	FromCountry   string
	ToCountry     string
	ForwardedFrom string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:       r.PostFormValue("CallSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          trimPhone(r.PostFormValue("From")),
		To:            trimPhone(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		CallerName:    r.PostFormValue("CallerName"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ToCountry:     r.PostFormValue("ToCountry"),
		ForwardedFrom: trimPhone(r.PostFormValue("ForwardedFrom")),
	}
	if f.CallSid == "" {
		return TwilioInboundForm{}, errors.New("telephony: CallSid is required")
	}
	return f, nil
}

// Twilio sometimes sends "anonymous" or empty; keep as-is.
func trimPhone(s string) string { return strings.TrimSpace(s) }

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		Provider:       "twilio",
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}

// ParseTwilioStatusCallback turns a StatusCallback POST into a ProviderEvent.
// now is used when the payload carries no usable Timestamp.
func ParseTwilioStatusCallback(r *http.Request, now time.Time) (ProviderEvent, error) {
	if err := r.ParseForm(); err != nil {
		return ProviderEvent{}, err
	}
	sid := r.PostFormValue("CallSid")
	if sid == "" {
		return ProviderEvent{}, errors.New("telephony: CallSid is required")
	}
	status := r.PostFormValue("CallStatus")
	ev := ProviderEvent{
		Provider:       "twilio",
		ProviderCallID: sid,
		Signal:         TwilioSignal(status),
		RawStatus:      status,
		AnsweredBy:     r.PostFormValue("AnsweredBy"),
		From:           trimPhone(r.PostFormValue("From")),
		To:             trimPhone(r.PostFormValue("To")),
		OccurredAt:     now.UTC(),
	}
	if d, err := strconv.Atoi(r.PostFormValue("CallDuration")); err == nil && d > 0 {
		ev.DurationSeconds = d
	}
	if ts := r.PostFormValue("Timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC1123Z, ts); err == nil {
			ev.OccurredAt = t.UTC()
		}
	}
	return ev, nil
}

// ValidateTwilioSignature checks X-Twilio-Signature for a form POST to fullURL.
func ValidateTwilioSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
