package telephony

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Twilio posts application/x-www-form-urlencoded bodies.
// Ref: https://www.twilio.com/docs/usage/webhooks/voice-webhooks
//
// Parsers translate the subset of fields we use into provider-agnostic events.
// Only the fields needed to identify the call (or message) are mandatory.

func parseForm(r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

func ParseTwilioInitiation(r *http.Request, now time.Time) (InitiationEvent, error) {
	if err := parseForm(r); err != nil {
		return InitiationEvent{}, err
	}
	ev := InitiationEvent{
		CallID:        strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountID:     strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     strings.TrimSpace(r.PostFormValue("Direction")),
		CarrierStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallerName:    strings.TrimSpace(r.PostFormValue("CallerName")),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
		FromCountry:   strings.TrimSpace(r.PostFormValue("FromCountry")),
		ToCountry:     strings.TrimSpace(r.PostFormValue("ToCountry")),
		OccurredAt:    parseTimestamp(r.PostFormValue("Timestamp"), now),
	}
	if err := requireFields("CallSid", ev.CallID, "From", ev.From, "To", ev.To); err != nil {
		return InitiationEvent{}, err
	}
	if ev.CarrierStatus == "" {
		ev.CarrierStatus = "ringing"
	}
	return ev, nil
}

func ParseTwilioStatus(r *http.Request, now time.Time) (StatusEvent, error) {
	if err := parseForm(r); err != nil {
		return StatusEvent{}, err
	}
	ev := StatusEvent{
		CallID:        strings.TrimSpace(r.PostFormValue("CallSid")),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     strings.TrimSpace(r.PostFormValue("Direction")),
		CarrierStatus: strings.TrimSpace(r.PostFormValue("CallStatus")),
		OccurredAt:    parseTimestamp(r.PostFormValue("Timestamp"), now),
	}
	if err := requireFields("CallSid", ev.CallID, "CallStatus", ev.CarrierStatus); err != nil {
		return StatusEvent{}, err
	}
	if raw := strings.TrimSpace(r.PostFormValue("CallDuration")); raw != "" {
		if d, err := strconv.Atoi(raw); err == nil && d >= 0 {
			ev.DurationSeconds = &d
		} else {
			ev.InvalidDuration = raw
		}
	}
	return ev, nil
}

func ParseTwilioMessage(r *http.Request, now time.Time) (MessageEvent, error) {
	if err := parseForm(r); err != nil {
		return MessageEvent{}, err
	}
	ev := MessageEvent{
		MessageID:  firstNonEmpty(r.PostFormValue("MessageSid"), r.PostFormValue("SmsSid")),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		Status:     strings.ToLower(firstNonEmpty(r.PostFormValue("MessageStatus"), r.PostFormValue("SmsStatus"))),
		ErrorCode:  strings.TrimSpace(r.PostFormValue("ErrorCode")),
		OccurredAt: now.UTC(),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("NumSegments"))); err == nil {
		ev.NumSegments = n
	}
	if err := requireFields("MessageSid", ev.MessageID, "From", ev.From, "To", ev.To); err != nil {
		return MessageEvent{}, err
	}
	if ev.Status == "" {
		ev.Status = "received"
	}
	return ev, nil
}

// FormPayload flattens the posted form for audit. Repeated keys keep their first value.
func FormPayload(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMalformedEvent, strings.Join(missing, ", "))
	}
	return nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

// parseTimestamp reads Twilio's RFC 1123 timestamp, falling back to now.
func parseTimestamp(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC()
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return now.UTC()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
