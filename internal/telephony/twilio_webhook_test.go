package telephony

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func formRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioInitiation(t *testing.T) {
	now := time.Unix(1700000000, 0)
	r := formRequest("CallSid=CA123&AccountSid=AC1&From=%2B15551234567&To=%2B15557654321&Direction=inbound&CallerName=Jane")

	ev, err := ParseTwilioInitiation(r, now)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.CallID != "CA123" || ev.AccountID != "AC1" {
		t.Fatalf("unexpected ids: %+v", ev)
	}
	if ev.From != "+15551234567" || ev.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", ev.From, ev.To)
	}
	if ev.CarrierStatus != "ringing" {
		t.Fatalf("expected default ringing status, got %q", ev.CarrierStatus)
	}
	if !ev.OccurredAt.Equal(now) {
		t.Fatalf("expected now fallback, got %v", ev.OccurredAt)
	}
}

func TestParseTwilioInitiation_MissingFields(t *testing.T) {
	_, err := ParseTwilioInitiation(formRequest("From=%2B1555"), time.Now())
	if !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if !strings.Contains(err.Error(), "CallSid") || !strings.Contains(err.Error(), "To") {
		t.Fatalf("expected missing fields named, got %v", err)
	}
}

func TestParseTwilioStatus(t *testing.T) {
	r := formRequest("CallSid=CA123&CallStatus=completed&CallDuration=125&Timestamp=Tue%2C%2014%20Nov%202023%2022%3A13%3A20%20%2B0000")

	ev, err := ParseTwilioStatus(r, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.CarrierStatus != "completed" {
		t.Fatalf("unexpected status %q", ev.CarrierStatus)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 125 {
		t.Fatalf("expected duration 125, got %v", ev.DurationSeconds)
	}
	want := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if !ev.OccurredAt.Equal(want) {
		t.Fatalf("expected carrier timestamp, got %v", ev.OccurredAt)
	}
}

func TestParseTwilioStatus_NoDuration(t *testing.T) {
	ev, err := ParseTwilioStatus(formRequest("CallSid=CA1&CallStatus=in-progress"), time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.DurationSeconds != nil {
		t.Fatalf("expected nil duration, got %v", *ev.DurationSeconds)
	}
}

func TestParseTwilioStatus_BadDurationTreatedAsAbsent(t *testing.T) {
	for raw, body := range map[string]string{
		"abc": "CallSid=CA1&CallStatus=completed&CallDuration=abc",
		"-3":  "CallSid=CA1&CallStatus=completed&CallDuration=-3",
	} {
		ev, err := ParseTwilioStatus(formRequest(body), time.Now())
		if err != nil {
			t.Fatalf("%s: expected event kept, got %v", body, err)
		}
		if ev.CarrierStatus != "completed" || ev.CallID != "CA1" {
			t.Fatalf("%s: unexpected event %+v", body, ev)
		}
		if ev.DurationSeconds != nil {
			t.Fatalf("%s: expected nil duration, got %d", body, *ev.DurationSeconds)
		}
		if ev.InvalidDuration != raw {
			t.Fatalf("%s: expected raw duration %q kept, got %q", body, raw, ev.InvalidDuration)
		}
	}
}

func TestParseTwilioStatus_MissingCallSid(t *testing.T) {
	if _, err := ParseTwilioStatus(formRequest("CallStatus=completed"), time.Now()); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
}

func TestParseTwilioMessage(t *testing.T) {
	r := formRequest("SmsSid=SM1&From=%2B1555&To=%2B1666&Body=hello%20there&NumSegments=2")

	ev, err := ParseTwilioMessage(r, time.Now())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.MessageID != "SM1" || ev.Body != "hello there" || ev.NumSegments != 2 {
		t.Fatalf("unexpected message: %+v", ev)
	}
	if ev.Status != "received" {
		t.Fatalf("expected default received status, got %q", ev.Status)
	}
}

func TestFormPayload(t *testing.T) {
	r := formRequest("CallSid=CA1&From=%2B1&From=%2B2")
	if err := r.ParseForm(); err != nil {
		t.Fatal(err)
	}
	p := FormPayload(r)
	if p["CallSid"] != "CA1" || p["From"] != "+1" {
		t.Fatalf("unexpected payload %v", p)
	}
}
