package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrUnknownCall is returned by an EventHandler for events about calls this
// service never placed or already forgot. Webhooks acknowledge them.
var ErrUnknownCall = errors.New("telephony: unknown call")

// EventHandler consumes normalized call-progress events.
type EventHandler interface {
	HandleProviderEvent(ctx context.Context, ev ProviderEvent) error
}

// InboundRouter decides what happens to an offered inbound call.
type InboundRouter interface {
	RouteInboundCall(ctx context.Context, req InboundCallRequest) (InboundCallResult, error)
}

// AnswerResolver decides what an answered outbound call hears.
type AnswerResolver interface {
	AnswerFor(ctx context.Context, providerCallID, answeredBy string) (AnsweredCall, error)
}

// WebhookHandler converts provider webhooks to internal types and delegates.
// No business logic here.
type WebhookHandler struct {
	Events  EventHandler
	Inbound InboundRouter
	Answers AnswerResolver

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// TwilioStatus handles StatusCallback POSTs.
func (h WebhookHandler) TwilioStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handler not configured"})
		return
	}

	ev, err := ParseTwilioStatusCallback(c.Request, h.now())
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	h.dispatch(c, ev)
}

// TwilioVoice serves TwiML for both inbound calls and answered outbound calls.
func (h WebhookHandler) TwilioVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	ctx := audit.WithClientIP(c.Request.Context(), c.ClientIP())

	var twiml string
	if strings.HasPrefix(form.Direction, "outbound") {
		if h.Answers == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "answer resolver not configured"})
			return
		}
		a, err := h.Answers.AnswerFor(ctx, form.CallSid, c.Request.PostFormValue("AnsweredBy"))
		if err != nil {
			log.Warn("answer resolution failed", "call_sid", form.CallSid, "err", err)
			a = AnsweredCall{}
		}
		twiml, err = RenderAnswerTwiML(a)
		if err != nil {
			log.Error("twiml render failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
			return
		}
	} else {
		if h.Inbound == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound router not configured"})
			return
		}
		res, err := h.Inbound.RouteInboundCall(ctx, form.ToInboundCallRequest(h.now()))
		if err != nil {
			log.Error("inbound call routing failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
			return
		}
		twiml, err = RenderTwiML(res)
		if err != nil {
			log.Error("twiml render failed", "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
			return
		}
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// Telnyx handles Call Control webhooks.
func (h WebhookHandler) Telnyx(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Events == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handler not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	ev, err := ParseTelnyxEvent(body, h.now())
	if errors.Is(err, ErrIgnoredEvent) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		log.Warn("telnyx webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}
	h.dispatch(c, ev)
}

func (h WebhookHandler) dispatch(c *gin.Context, ev ProviderEvent) {
	log := logger.FromGin(c).With("provider", ev.Provider, "provider_call_id", ev.ProviderCallID, "signal", ev.Signal)

	err := h.Events.HandleProviderEvent(c.Request.Context(), ev)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, ErrUnknownCall):
		log.Warn("event for unknown call", "err", err)
		c.Status(http.StatusNoContent)
	default:
		log.Error("provider event failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event handling failed"})
	}
}

// TwilioSignatureMiddleware rejects form POSTs whose X-Twilio-Signature does
// not match. An empty publicBaseURL disables the check.
func TwilioSignatureMiddleware(authToken, publicBaseURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if publicBaseURL == "" {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		full := publicBaseURL + c.Request.URL.RequestURI()
		if !ValidateTwilioSignature(authToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
