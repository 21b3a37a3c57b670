// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// RateLimiter is a process-local token bucket per client key, built on
// golang.org/x/time/rate. A request over its client budget gets one more
// chance when it is a platform redelivery of a stored webhook: it is charged
// to a bucket keyed by its fingerprint instead. Meta retries a webhook until
// it sees a 2xx, so throttling a retry only produces another retry, while
// replaying one stored body stays limited.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleBucketTTL is how long an unused bucket survives before a sweep drops it.
const idleBucketTTL = 10 * time.Minute

// keyFunc maps a request to its bucket key.
type keyFunc func(*gin.Context) string

// KeyByClientIP buckets by client address ("ip:203.0.113.7"). Webhook
// callers are anonymous until the signature is checked, so the address is the
// only identity available this early.
func KeyByClientIP() keyFunc {
	return func(c *gin.Context) string {
		return "ip:" + c.ClientIP()
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	ttl       time.Duration
	lastSweep time.Time
}

// NewRateLimiter builds a limiter refilling rps tokens per second with the
// given burst (coerced to at least 1).
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		rps:       rate.Limit(rps),
		burst:     burst,
		keyFn:     keyFn,
		now:       time.Now,
		buckets:   make(map[string]*bucket),
		ttl:       idleBucketTTL,
		lastSweep: time.Now(),
	}
}

// limiterFor returns the bucket for key, creating it on first use. At most
// once per ttl it first drops buckets idle for a full ttl, so a stale bucket
// is evicted even when it is the one being looked up.
func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.ttl {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.ttl {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

// retryAfter is the whole number of seconds until one token is refilled.
func (rl *RateLimiter) retryAfter() string {
	if rl.rps <= 0 || math.IsInf(float64(rl.rps), 1) {
		return "1"
	}
	secs := int(math.Ceil(1 / float64(rl.rps)))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// redeliveryKey is the bucket for a redelivered body.
func redeliveryKey(c *gin.Context) (string, bool) {
	fp, ok := GetFingerprint(c)
	if !ok || !IsRedelivery(c) {
		return "", false
	}
	return "fp:" + fp, true
}

// Handler enforces the limit. Rejected requests get 429 with Retry-After and
// the standard error envelope (code "too_many_requests").
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.keyFn(c)
		if rl.limiterFor(key).Allow() {
			c.Next()
			return
		}

		// The store is consulted only for requests already over budget.
		if fpKey, ok := redeliveryKey(c); ok {
			if rl.limiterFor(fpKey).Allow() {
				c.Next()
				return
			}
			key = fpKey
		}

		LoggerFrom(c).Warn().Str("bucket", key).Msg("rate limited")
		c.Header("Retry-After", rl.retryAfter())
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
