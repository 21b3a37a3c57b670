// Package handlers implements the HTTP endpoints: the WhatsApp webhook
// (verification challenge and deliveries) and the health probe.
//
// Non-delivery errors share one envelope:
//
//	HTTP/1.1 403 Forbidden
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "forbidden",
//	  "message": "verification failed"
//	}
//
// Deliveries always answer with WebhookResponse so Meta's retry logic only
// sees non-2xx for requests it should not retry blindly.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wamcp-ingest/internal/http/middleware"
)

// ErrorResponse is the error envelope for everything except deliveries.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go)
	Code string `json:"code" example:"forbidden"`
	// Human-readable message
	Message string `json:"message" example:"verification failed"`
}

// requestID is the correlation id RequestID() echoed on the response.
func requestID(c *gin.Context) string {
	return c.Writer.Header().Get("X-Request-ID")
}

// fail aborts with an ErrorResponse. Server errors are logged at error level;
// 401 and 403 at warn, since repeated ones usually mean a misconfigured
// secret or someone probing the endpoint.
func fail(c *gin.Context, status int, code, msg string) {
	switch lg := middleware.LoggerFrom(c); {
	case status >= http.StatusInternalServerError:
		lg.Error().Int("status", status).Str("code", code).Str("message", msg).Msg("api error")
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		lg.Warn().Int("status", status).Str("code", code).Msg("request refused")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is fail for the router's fallback handlers.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
