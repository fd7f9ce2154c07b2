package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

const (
	sayVoice = "alice"

	DefaultGreeting   = "Hello! Thank you for calling. Please hold while we connect you."
	notFoundMessage   = "We're sorry, the number you have called is not in service. Goodbye."
	blockedMessage    = "Your free trial minutes have been used up. Please upgrade your plan to keep receiving calls. Goodbye."
	technicalFailure  = "We're sorry, we're experiencing technical difficulties. Please try calling back in a few minutes."
	streamParamCall   = "call_id"
	streamParamTenant = "tenant_id"
	streamParamDir    = "direction"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

var ErrStreamURLRequired = errors.New("telephony: stream_url required for allowed outcome")

// RenderTwiML maps a CallControl decision to TwiML.
func RenderTwiML(cc CallControl) (string, error) {
	var r twimlResponse

	switch cc.Outcome {
	case OutcomeNotFound:
		r.Verbs = append(r.Verbs, say(notFoundMessage), twimlHangup{})
	case OutcomeBlocked:
		r.Verbs = append(r.Verbs, say(blockedMessage), twimlHangup{})
	case OutcomeError:
		r.Verbs = append(r.Verbs, say(technicalFailure), twimlHangup{})
	case OutcomeAllowed:
		if strings.TrimSpace(cc.StreamURL) == "" {
			return "", ErrStreamURLRequired
		}
		greeting := strings.TrimSpace(cc.Greeting)
		if greeting == "" {
			greeting = DefaultGreeting
		}
		r.Verbs = append(r.Verbs, say(greeting), twimlConnect{Stream: twimlStream{
			URL: cc.StreamURL,
			Parameters: []twimlParameter{
				{Name: streamParamCall, Value: cc.CallID},
				{Name: streamParamTenant, Value: cc.TenantID},
				{Name: streamParamDir, Value: cc.Direction},
			},
		}})
	default:
		return "", errors.New("telephony: unknown call control outcome")
	}

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

// FallbackTwiML is served when rendering itself fails. It must never error.
func FallbackTwiML() string {
	return xml.Header + "<Response>\n  <Say voice=\"" + sayVoice + "\">We&#39;re sorry, we&#39;re experiencing technical difficulties. Please try calling back in a few minutes.</Say>\n  <Hangup></Hangup>\n</Response>"
}

func say(text string) twimlSay {
	return twimlSay{Voice: sayVoice, Text: text}
}

// StreamURLFor expands a media stream template containing {call_id}.
func StreamURLFor(template, callID string) string {
	return strings.ReplaceAll(template, "{call_id}", callID)
}
