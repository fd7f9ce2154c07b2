package telephony

import (
	"context"
	"net/http"
	"time"

	"voicegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookRouter classifies carrier webhooks by the terminal path segment and
// dispatches them to the handler for that event type.
//
// No business logic here: decisions belong to the handlers, rendering to RenderTwiML.
type WebhookRouter struct {
	Initiation InitiationRouter
	Status     StatusReconciler
	Messages   MessageRecorder

	// Audit is optional. Failures are logged and never change the response.
	Audit WebhookAuditor

	Now func() time.Time
}

var okAck = gin.H{"status": "ok"}

func (h WebhookRouter) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// Handle serves POST /webhooks/twilio/:event.
func (h WebhookRouter) Handle(c *gin.Context) {
	event := EventType(c.Param("event"))
	switch event {
	case EventVoice:
		h.handleVoice(c)
	case EventStatus:
		h.handleStatus(c)
	case EventMessage:
		h.handleMessage(c)
	default:
		_ = c.Request.ParseForm()
		logger.FromGin(c).Warn("unrecognised webhook event",
			zap.String("event_type", string(event)),
			zap.Any("payload", FormPayload(c.Request)),
		)
		h.audit(c, WebhookRecord{EventType: event, Outcome: "ignored"})
		c.JSON(http.StatusOK, okAck)
	}
}

func (h WebhookRouter) handleVoice(c *gin.Context) {
	log := logger.FromGin(c).With(zap.String("event_type", string(EventVoice)))

	ev, err := ParseTwilioInitiation(c.Request, h.now())
	payload := FormPayload(c.Request)
	log = log.With(zap.String("call_id", ev.CallID))
	log.Info("webhook received", zap.Any("payload", payload))

	var cc CallControl
	switch {
	case err != nil:
		log.Warn("malformed voice webhook", zap.Error(err))
		cc = CallControl{Outcome: OutcomeError, Reason: "malformed"}
	case h.Initiation == nil:
		log.Error("initiation router not configured")
		cc = CallControl{Outcome: OutcomeError, CallID: ev.CallID}
	default:
		cc, err = h.Initiation.RouteInitiation(c.Request.Context(), ev)
		if err != nil {
			log.Error("initiation routing failed", zap.Error(err))
			cc = CallControl{Outcome: OutcomeError, CallID: ev.CallID}
		}
	}

	h.audit(c, WebhookRecord{EventType: EventVoice, CallID: ev.CallID, TenantID: cc.TenantID, Payload: payload, Outcome: string(cc.Outcome), Error: errString(err)})

	twiml, rerr := RenderTwiML(cc)
	if rerr != nil {
		log.Error("twiml render failed", zap.Error(rerr), zap.String("outcome", string(cc.Outcome)))
		twiml = FallbackTwiML()
	}
	log.Info("call control decided",
		zap.String("outcome", string(cc.Outcome)),
		zap.String("tenant_id", cc.TenantID),
		zap.String("reason", cc.Reason),
	)

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func (h WebhookRouter) handleStatus(c *gin.Context) {
	log := logger.FromGin(c).With(zap.String("event_type", string(EventStatus)))

	ev, err := ParseTwilioStatus(c.Request, h.now())
	payload := FormPayload(c.Request)
	log = log.With(zap.String("call_id", ev.CallID))
	log.Info("webhook received", zap.Any("payload", payload))

	if err != nil {
		log.Warn("malformed status webhook", zap.Error(err))
		h.audit(c, WebhookRecord{EventType: EventStatus, CallID: ev.CallID, Payload: payload, Outcome: "malformed", Error: err.Error()})
		c.JSON(http.StatusOK, okAck)
		return
	}
	if h.Status == nil {
		log.Error("status reconciler not configured")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status handler not configured"})
		return
	}
	if ev.InvalidDuration != "" {
		log.Warn("unparseable call duration treated as absent", zap.String("call_duration", ev.InvalidDuration))
	}

	if err := h.Status.ReconcileStatus(c.Request.Context(), ev); err != nil {
		log.Error("status reconcile failed", zap.Error(err), zap.String("carrier_status", ev.CarrierStatus))
		h.audit(c, WebhookRecord{EventType: EventStatus, CallID: ev.CallID, Payload: payload, Outcome: "retry", Error: err.Error()})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status update failed"})
		return
	}

	h.audit(c, WebhookRecord{EventType: EventStatus, CallID: ev.CallID, Payload: payload, Outcome: "applied"})
	c.JSON(http.StatusOK, okAck)
}

func (h WebhookRouter) handleMessage(c *gin.Context) {
	log := logger.FromGin(c).With(zap.String("event_type", string(EventMessage)))

	ev, err := ParseTwilioMessage(c.Request, h.now())
	payload := FormPayload(c.Request)
	log = log.With(zap.String("message_id", ev.MessageID))
	log.Info("webhook received", zap.Any("payload", payload))

	if err != nil {
		log.Warn("malformed sms webhook", zap.Error(err))
		h.audit(c, WebhookRecord{EventType: EventMessage, MessageID: ev.MessageID, Payload: payload, Outcome: "malformed", Error: err.Error()})
		c.JSON(http.StatusOK, okAck)
		return
	}
	if h.Messages == nil {
		log.Warn("message recorder not configured; dropping")
		c.JSON(http.StatusOK, okAck)
		return
	}

	if err := h.Messages.RecordMessage(c.Request.Context(), ev); err != nil {
		log.Error("sms record failed", zap.Error(err))
		h.audit(c, WebhookRecord{EventType: EventMessage, MessageID: ev.MessageID, Payload: payload, Outcome: "retry", Error: err.Error()})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "message record failed"})
		return
	}

	h.audit(c, WebhookRecord{EventType: EventMessage, MessageID: ev.MessageID, Payload: payload, Outcome: "recorded"})
	c.JSON(http.StatusOK, okAck)
}

func (h WebhookRouter) audit(c *gin.Context, rec WebhookRecord) {
	if h.Audit == nil {
		return
	}
	rec.ClientIP = c.ClientIP()
	rec.ReceivedAt = h.now()
	if rec.Payload == nil {
		rec.Payload = FormPayload(c.Request)
	}
	// Outlives the request context.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
	defer cancel()
	if err := h.Audit.RecordWebhook(ctx, rec); err != nil {
		logger.FromGin(c).Warn("webhook audit failed", zap.Error(err), zap.String("event_type", string(rec.EventType)))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
