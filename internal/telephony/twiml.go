package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Record  string    `xml:"record,attr,omitempty"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderTwiML maps an InboundCallResult to TwiML.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse

	switch res.Action {
	case InboundCallActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case InboundCallActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case InboundCallActionConnect:
		d, err := dial(res.ConnectTo, false)
		if err != nil {
			return "", err
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("telephony: unknown inbound action")
	}
	return encodeTwiML(r)
}

// AnsweredCall describes what an answered outbound call should hear.
type AnsweredCall struct {
	// Script is read to the callee before any connect.
	Script string
	// ConnectTo bridges the callee to an agent number or sip: URI when set.
	ConnectTo string
	// Machine is true when answering machine detection reported a machine;
	// the call is hung up without playing anything.
	Machine bool
	Record  bool
}

// RenderAnswerTwiML builds the response for the outbound voice URL.
func RenderAnswerTwiML(a AnsweredCall) (string, error) {
	var r twimlResponse
	if a.Machine {
		r.Verbs = append(r.Verbs, twimlHangup{})
		return encodeTwiML(r)
	}
	if s := strings.TrimSpace(a.Script); s != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: s})
	}
	if strings.TrimSpace(a.ConnectTo) != "" {
		d, err := dial(a.ConnectTo, a.Record)
		if err != nil {
			return "", err
		}
		r.Verbs = append(r.Verbs, d)
	} else {
		r.Verbs = append(r.Verbs, twimlHangup{})
	}
	return encodeTwiML(r)
}

func dial(target string, record bool) (twimlDial, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return twimlDial{}, errors.New("telephony: connect_to required for connect action")
	}
	d := twimlDial{}
	if record {
		d.Record = "record-from-answer"
	}
	// Prefer SIP if it looks like sip:... otherwise treat as a PSTN number.
	if strings.HasPrefix(strings.ToLower(target), "sip:") {
		d.Sip = &twimlSip{URI: target}
	} else {
		d.Number = target
	}
	return d, nil
}

// AnsweredByMachine reports whether a Twilio AnsweredBy or Telnyx AMD result
// names a machine.
func AnsweredByMachine(answeredBy string) bool {
	v := strings.ToLower(answeredBy)
	return strings.HasPrefix(v, "machine") || v == "fax"
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
