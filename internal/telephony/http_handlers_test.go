package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubInitiation struct {
	cc  CallControl
	err error
	got []InitiationEvent
}

func (s *stubInitiation) RouteInitiation(ctx context.Context, ev InitiationEvent) (CallControl, error) {
	s.got = append(s.got, ev)
	return s.cc, s.err
}

type stubStatus struct {
	err error
	got []StatusEvent
}

func (s *stubStatus) ReconcileStatus(ctx context.Context, ev StatusEvent) error {
	s.got = append(s.got, ev)
	return s.err
}

type stubMessages struct {
	err error
	got []MessageEvent
}

func (s *stubMessages) RecordMessage(ctx context.Context, ev MessageEvent) error {
	s.got = append(s.got, ev)
	return s.err
}

type memAuditor struct {
	mu   sync.Mutex
	recs []WebhookRecord
	err  error
}

func (m *memAuditor) RecordWebhook(ctx context.Context, rec WebhookRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return m.err
}

func newRouter(h WebhookRouter, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, h.Handle)
	r.POST("/webhooks/twilio/:event", handlers...)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestWebhookRouter_VoiceAllowedRendersStream(t *testing.T) {
	ir := &stubInitiation{cc: CallControl{Outcome: OutcomeAllowed, CallID: "CA1", TenantID: "t1", Direction: "inbound", StreamURL: "wss://m/media/CA1"}}
	aud := &memAuditor{}
	r := newRouter(WebhookRouter{Initiation: ir, Audit: aud})

	w := post(r, "/webhooks/twilio/voice", "CallSid=CA1&From=%2B1555&To=%2B1666")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), `<Stream url="wss://m/media/CA1">`)
	require.Len(t, ir.got, 1)
	assert.Equal(t, "+1666", ir.got[0].To)
	require.Len(t, aud.recs, 1)
	assert.Equal(t, EventVoice, aud.recs[0].EventType)
	assert.Equal(t, "CA1", aud.recs[0].CallID)
	assert.Equal(t, "allowed", aud.recs[0].Outcome)
	assert.Equal(t, "+1555", aud.recs[0].Payload["From"])
}

func TestWebhookRouter_VoiceRouterErrorApologises(t *testing.T) {
	ir := &stubInitiation{err: errors.New("db down")}
	r := newRouter(WebhookRouter{Initiation: ir})

	w := post(r, "/webhooks/twilio/voice", "CallSid=CA1&From=%2B1555&To=%2B1666")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "technical difficulties")
	assert.Contains(t, w.Body.String(), "<Hangup>")
}

func TestWebhookRouter_VoiceMalformedIsAcknowledged(t *testing.T) {
	ir := &stubInitiation{}
	aud := &memAuditor{}
	r := newRouter(WebhookRouter{Initiation: ir, Audit: aud})

	w := post(r, "/webhooks/twilio/voice", "From=%2B1555")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ir.got)
	require.Len(t, aud.recs, 1)
	assert.Contains(t, aud.recs[0].Error, "CallSid")
}

func TestWebhookRouter_StatusAckAndRetry(t *testing.T) {
	st := &stubStatus{}
	r := newRouter(WebhookRouter{Status: st})

	w := post(r, "/webhooks/twilio/status", "CallSid=CA1&CallStatus=completed&CallDuration=61")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	require.Len(t, st.got, 1)
	require.NotNil(t, st.got[0].DurationSeconds)
	assert.Equal(t, 61, *st.got[0].DurationSeconds)

	st.err = errors.New("store unavailable")
	w = post(r, "/webhooks/twilio/status", "CallSid=CA1&CallStatus=completed&CallDuration=61")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookRouter_StatusWithBadDurationStillApplied(t *testing.T) {
	st := &stubStatus{}
	aud := &memAuditor{}
	r := newRouter(WebhookRouter{Status: st, Audit: aud})

	w := post(r, "/webhooks/twilio/status", "CallSid=CA1&CallStatus=completed&CallDuration=n%2Fa")

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, st.got, 1)
	assert.Equal(t, "completed", st.got[0].CarrierStatus)
	assert.Nil(t, st.got[0].DurationSeconds)
	require.Len(t, aud.recs, 1)
	assert.Equal(t, "applied", aud.recs[0].Outcome)
}

func TestWebhookRouter_StatusMalformedNotRetried(t *testing.T) {
	st := &stubStatus{}
	r := newRouter(WebhookRouter{Status: st})

	w := post(r, "/webhooks/twilio/status", "CallStatus=completed")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, st.got)
}

func TestWebhookRouter_Message(t *testing.T) {
	msgs := &stubMessages{}
	r := newRouter(WebhookRouter{Messages: msgs})

	w := post(r, "/webhooks/twilio/sms", "MessageSid=SM1&From=%2B1555&To=%2B1666&Body=hi")

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, msgs.got, 1)
	assert.Equal(t, "hi", msgs.got[0].Body)
}

func TestWebhookRouter_UnknownEventAcknowledged(t *testing.T) {
	aud := &memAuditor{err: errors.New("audit down")}
	r := newRouter(WebhookRouter{Audit: aud})

	w := post(r, "/webhooks/twilio/recording", "RecordingSid=RE1")

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, aud.recs, 1)
	assert.Equal(t, "ignored", aud.recs[0].Outcome)
	assert.Equal(t, "RE1", aud.recs[0].Payload["RecordingSid"])
}

// sign computes X-Twilio-Signature for a form POST:
// base64(HMAC-SHA1(token, url + k1 + v1 + k2 + v2 ...)) with keys sorted.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedPost(r http.Handler, path, body, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestValidateTwilioSignature(t *testing.T) {
	const token = "secret-token"
	const base = "https://hooks.example.com/"
	st := &stubStatus{}
	r := newRouter(WebhookRouter{Status: st}, ValidateTwilioSignature(token, base))

	body := "CallStatus=ringing&CallSid=CA1"
	form, _ := url.ParseQuery(body)
	sig := sign(token, "https://hooks.example.com/webhooks/twilio/status", form)

	w := signedPost(r, "/webhooks/twilio/status", body, sig)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, st.got, 1)

	w = post(r, "/webhooks/twilio/status", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = signedPost(r, "/webhooks/twilio/status", body, sign("other-token", "https://hooks.example.com/webhooks/twilio/status", form))
	assert.Equal(t, http.StatusForbidden, w.Code)

	// body tampered after signing
	w = signedPost(r, "/webhooks/twilio/status", "CallStatus=completed&CallSid=CA1", sig)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Len(t, st.got, 1)
}
