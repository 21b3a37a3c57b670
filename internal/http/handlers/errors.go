package handlers

// Error codes carried in ErrorResponse.Code. Webhook deliveries answer with
// WebhookResponse instead, whose Error field reuses ErrCodeInvalidSignature
// and ErrCodeInternal.
const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeForbidden        = "forbidden"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeInternal         = "internal_error"
	ErrCodeUnavailable      = "service_unavailable"

	// Also written by the middleware package, which cannot import this one.
	ErrCodeRateLimited     = "too_many_requests"
	ErrCodePayloadTooLarge = "payload_too_large"

	ErrCodeInvalidSignature = "invalid_signature"
	ErrCodePluginMode       = "plugin_mode"
)
