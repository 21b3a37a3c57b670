// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RedactingLogger writes one access-log line per request with identifiers
// scrubbed. Bodies are never logged. Header values and the raw query are
// pattern-redacted (UUIDs, emails, phone numbers); selected headers and query
// parameters are masked outright. For webhook deliveries the line also carries
// the short body fingerprint, plus whether it was a redelivery when something
// upstream (the rate limiter) had to ask.
//
// Usage:
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders:     []string{"X-Hub-Signature-256"},
//	    MaskQueryParams: []string{"hub.verify_token"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const redacted = "[REDACTED]"

// RedactOptions adds to the built-in masks.
//
// MaskHeaders are matched case-insensitively and merged with Authorization,
// Cookie and Set-Cookie. MaskQueryParams have their values replaced before
// pattern redaction runs.
type RedactOptions struct {
	MaskHeaders     []string
	MaskQueryParams []string
}

// UUIDs go first so the phone pattern cannot eat their digit groups. The
// phone pattern is digits only, which also keeps it off hex ids.
var (
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

type redactor struct {
	headers map[string]struct{}
	params  []*regexp.Regexp
}

func newRedactor(opts RedactOptions) *redactor {
	r := &redactor{headers: map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			r.headers[h] = struct{}{}
		}
	}
	for _, p := range opts.MaskQueryParams {
		if p = strings.TrimSpace(p); p != "" {
			r.params = append(r.params, regexp.MustCompile(`(^|&)(`+regexp.QuoteMeta(p)+`)=[^&]*`))
		}
	}
	return r
}

// text scrubs identifiers from free text.
func (r *redactor) text(s string) string {
	if s == "" {
		return s
	}
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// query masks configured parameters, then scrubs the rest.
func (r *redactor) query(q string) string {
	for _, re := range r.params {
		q = re.ReplaceAllString(q, "${1}${2}="+redacted)
	}
	return r.text(q)
}

// header returns the loggable form of a header. X-Request-ID is kept as is;
// it is the correlation key for the line.
func (r *redactor) header(name string, values []string) string {
	lower := strings.ToLower(name)
	if _, ok := r.headers[lower]; ok {
		return redacted
	}
	v := strings.Join(values, ", ")
	if lower == "x-request-id" {
		return v
	}
	return r.text(v)
}

// RedactingLogger returns the access-log middleware. Level is info, warn for
// 4xx and error for 5xx. The request id prefers the response header set by
// RequestID and falls back to the inbound one.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	rd := newRedactor(opts)

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = rd.text(c.Request.URL.Path)
		}
		query := rd.query(c.Request.URL.RawQuery)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			headers[k] = rd.header(k, vv)
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if fp, ok := GetFingerprint(c); ok {
			if len(fp) > 8 {
				fp = fp[:8]
			}
			ev = ev.Str("fingerprint", fp)
			if known, ok := redeliveryResolved(c); ok {
				ev = ev.Bool("redelivery", known)
			}
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
