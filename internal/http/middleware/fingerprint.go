// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the webhook delivery guard. For POST requests it
// buffers the (already size-limited) body, computes its SHA-256 fingerprint
// and stashes both in the Gin context so downstream handlers can:
//   - read the exact bytes the signature was computed over (RawBody)
//   - read the fingerprint without hashing twice (GetFingerprint)
//   - ask whether the delivery is a redelivery of a stored one (IsRedelivery)
//
// The store is only consulted when IsRedelivery is called. The rate limiter
// does so for requests over their client budget, so an ordinary delivery
// costs no lookup before it is throttled.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/wamcp-ingest/internal/whatsapp"
)

// Context keys used internally to stash delivery state.
const (
	ctxKeyRawBody     = "webhook.body"
	ctxKeyFingerprint = "webhook.fingerprint"
	ctxKeyLookup      = "webhook.lookup"     // func() bool, resolves redelivery once
	ctxKeyRedelivery  = "webhook.redelivery" // bool: fingerprint already stored
)

// FingerprintLookup answers whether a delivery with the given fingerprint is
// already stored. Errors are ignored by the guard; the handler repeats the
// check inside its transaction.
type FingerprintLookup func(ctx context.Context, fingerprint string) (exists bool, err error)

// RawBody returns the buffered request body stashed by FingerprintGuard.
func RawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(ctxKeyRawBody)
	if !ok {
		return nil, false
	}
	b, ok := v.([]byte)
	return b, ok
}

// GetFingerprint returns the body fingerprint stashed by FingerprintGuard.
func GetFingerprint(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyFingerprint)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsRedelivery reports whether the delivery is already stored. The first call
// runs the lookup handed to FingerprintGuard; the answer is cached on c.
func IsRedelivery(c *gin.Context) bool {
	if known, ok := redeliveryResolved(c); ok {
		return known
	}
	v, ok := c.Get(ctxKeyLookup)
	if !ok {
		return false
	}
	resolve, ok := v.(func() bool)
	if !ok {
		return false
	}
	known := resolve()
	c.Set(ctxKeyRedelivery, known)
	return known
}

// redeliveryResolved returns the cached IsRedelivery answer without running
// a lookup. ok is false when nothing has asked yet.
func redeliveryResolved(c *gin.Context) (known, ok bool) {
	v, found := c.Get(ctxKeyRedelivery)
	if !found {
		return false, false
	}
	known, ok = v.(bool)
	return known, ok
}

// FingerprintGuard buffers POST bodies and fingerprints them.
//
// Behavior:
//   - Non-POST requests pass through untouched.
//   - A body over the limiter's cap is answered with 413.
//   - The body is restored on the request so handlers may read it again.
//   - lookup is deferred until IsRedelivery is called. Lookup errors read
//     as "not stored"; the ingestion transaction repeats the check.
func FingerprintGuard(lookup FingerprintLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost || c.Request.Body == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				abortJSON(c, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
				return
			}
			abortJSON(c, http.StatusBadRequest, "bad_request", "unreadable request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		fp := whatsapp.Fingerprint(body)
		c.Set(ctxKeyRawBody, body)
		c.Set(ctxKeyFingerprint, fp)

		if lookup != nil {
			ctx := c.Request.Context()
			c.Set(ctxKeyLookup, func() bool {
				exists, err := lookup(ctx, fp)
				return err == nil && exists
			})
		}

		c.Next()
	}
}
