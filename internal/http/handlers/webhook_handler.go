// WhatsApp webhook HTTP handlers.
//
// This file exposes the two endpoints the Cloud API talks to:
//   - GET    /webhooks/whatsapp   (subscription verification challenge)
//   - POST   /webhooks/whatsapp   (event delivery)
//
// Handlers are transport-thin: they read the raw body, call the ingestion
// service, and translate its outcome into the JSON summary the platform
// expects. Deliveries are acknowledged with 200 even when processing failed,
// so the platform does not redeliver payloads that can never succeed.

package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/wamcp-ingest/internal/http/middleware"
	"github.com/tbourn/wamcp-ingest/internal/services"
)

// SignatureHeader carries the HMAC-SHA256 of the delivery body.
const SignatureHeader = "X-Hub-Signature-256"

//
// Service contracts (context-aware)
//

// Ingester processes one webhook delivery.
//
// Implementations should be safe for concurrent use. Ingest returns
// services.ErrInvalidSignature or services.ErrPluginMode for rejected
// deliveries; every other outcome is carried in the result.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestResult, error)
}

//
// Handler wiring
//

// Handlers groups the webhook and health endpoints.
type Handlers struct {
	ingest      Ingester
	verifyToken string
	db          *gorm.DB
}

// New constructs Handlers. db may be nil, in which case /health reports
// liveness only.
func New(ingest Ingester, verifyToken string, db *gorm.DB) *Handlers {
	return &Handlers{ingest: ingest, verifyToken: verifyToken, db: db}
}

//
// DTOs
//

// WebhookResponse is the JSON summary returned for every delivery.
type WebhookResponse struct {
	// OK is true when the delivery was stored and processed, or was a duplicate.
	OK bool `json:"ok" example:"true"`
	// RequestID correlates the response with server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Status is one of processed, ignored, rejected, parse_failed, error.
	Status string `json:"status" example:"processed"`
	// Count is the number of newly inserted messages (processed only).
	Count *int `json:"count,omitempty" example:"1"`
	// Reason explains an ignored delivery.
	Reason string `json:"reason,omitempty" example:"duplicate_event"`
	// Error is a short, truncated failure description.
	Error string `json:"error,omitempty" example:"invalid_signature"`
	// RawEventID identifies the stored delivery.
	RawEventID string `json:"raw_event_id,omitempty" example:"5f0c1c84-7d3e-4c0e-9a61-3b1b1c7f2b11"`
}

//
// Handlers
//

// VerifyWebhook godoc
// @ID          verifyWhatsAppWebhook
// @Summary     Webhook verification challenge
// @Description Answers the Cloud API subscription handshake by echoing hub.challenge when hub.verify_token matches.
// @Tags        Webhooks
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Must be subscribe"  example(subscribe)
// @Param       hub.verify_token  query  string  true  "Configured verify token"
// @Param       hub.challenge     query  string  true  "Challenge to echo"  example(1158201444)
//
// @Success     200  {string}  string                  "Challenge"
// @Failure     403  {object}  handlers.ErrorResponse  "Verification failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Verify token not configured"
// @Router      /webhooks/whatsapp [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")
	lg := middleware.LoggerFrom(c)

	if h.verifyToken == "" {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "verify token not configured")
		return
	}

	verified := mode == "subscribe" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) == 1
	lg.Info().
		Str("event", "whatsapp_webhook_verification").
		Str("mode", mode).
		Bool("verified", verified).
		Msg("webhook verification")

	if !verified {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// ReceiveWebhook godoc
// @ID          receiveWhatsAppWebhook
// @Summary     Receive a webhook delivery
// @Description Stores the delivery, normalizes it into conversations, participants and messages, and returns a processing summary. Redelivered bodies are acknowledged as duplicates.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Hub-Signature-256  header  string  false  "sha256=<hex HMAC of the body>"
// @Param       body                 body    object  true   "Cloud API webhook payload"
//
// @Success     200  {object}  handlers.WebhookResponse  "Processed, ignored, parse_failed or error after storage"
// @Failure     401  {object}  handlers.WebhookResponse  "Invalid signature"
// @Failure     403  {object}  handlers.ErrorResponse    "Plugin mode"
// @Failure     413  {object}  handlers.ErrorResponse    "Payload too large"
// @Failure     503  {object}  handlers.WebhookResponse  "Delivery not stored; the platform should retry"
// @Router      /webhooks/whatsapp [post]
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	body, found := middleware.RawBody(c)
	if !found {
		b, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				fail(c, http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
				return
			}
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable request body")
			return
		}
		body = b
	}

	rid := requestID(c)
	res, err := h.ingest.Ingest(c.Request.Context(), services.IngestRequest{
		Body:      body,
		Signature: c.GetHeader(SignatureHeader),
		Headers:   auditHeaders(c.Request.Header),
		RequestID: rid,
	})
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		c.AbortWithStatusJSON(http.StatusUnauthorized, WebhookResponse{
			OK:        false,
			RequestID: rid,
			Status:    string(services.OutcomeRejected),
			Error:     ErrCodeInvalidSignature,
		})
		return
	case errors.Is(err, services.ErrPluginMode):
		fail(c, http.StatusForbidden, ErrCodePluginMode, err.Error())
		return
	case err != nil:
		middleware.LoggerFrom(c).Error().Err(err).Msg("webhook ingestion failed")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, WebhookResponse{
			OK:        false,
			RequestID: rid,
			Status:    string(services.OutcomeError),
			Error:     ErrCodeInternal,
		})
		return
	}

	// Nothing was stored; a 5xx makes the platform redeliver.
	if res.Unstored() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, webhookResponse(rid, res))
		return
	}
	ok(c, http.StatusOK, webhookResponse(rid, res))
}

// webhookResponse renders an ingestion result.
func webhookResponse(rid string, res *services.IngestResult) WebhookResponse {
	out := WebhookResponse{
		OK:         res.OK(),
		RequestID:  rid,
		Status:     string(res.Outcome),
		Reason:     res.Reason,
		Error:      res.Error,
		RawEventID: res.RawEventID,
	}
	if res.Outcome == services.OutcomeProcessed {
		n := res.Count
		out.Count = &n
	}
	return out
}

// auditHeaders returns a copy of h without credentials, for storage
// alongside the raw delivery.
func auditHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Authorization", "Cookie", "Proxy-Authorization"} {
		out.Del(k)
	}
	return out
}
