// Package httpapi wires the HTTP transport (Gin) to the ingestion service,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, delivery fingerprinting, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Secrets (verify token, signature header) never reach the access log
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/wamcp-ingest/docs"
	"github.com/tbourn/wamcp-ingest/internal/config"
	"github.com/tbourn/wamcp-ingest/internal/http/handlers"
	"github.com/tbourn/wamcp-ingest/internal/http/middleware"
	"github.com/tbourn/wamcp-ingest/internal/repo"
)

// WebhookPath is where the Cloud API delivers events and verifies the
// subscription.
const WebhookPath = "/webhooks/whatsapp"

// defaultMaxBody caps request bodies when the configuration leaves it unset.
const defaultMaxBody int64 = 1 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), fingerprinting and
// rate limiting, CORS and security headers, health and metrics endpoints, and
// then mounts the WhatsApp webhook.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: access logs with PII and secret scrubbing
//  4. Logger: request-scoped logger for handlers and services
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Fingerprint guard (before rate limiter to let redeliveries bypass it)
//  9. Rate limiter (per client IP, bypass on redelivery)
//  10. CORS, Security headers and gzip
func RegisterRoutes(r *gin.Engine, db *gorm.DB, ingest handlers.Ingester, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:     []string{handlers.SignatureHeader},
		MaskQueryParams: []string{"hub.verify_token"},
	}))

	// 4) Request-scoped logger (gin context and request context)
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	r.Use(limitBody(maxBody))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Fingerprint deliveries; the store is asked only for over-budget requests
	r.Use(middleware.FingerprintGuard(knownFingerprint(db)))

	// 9) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", handlers.SignatureHeader},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: false, // must remain false with AllowAllOrigins
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Response compression; the Prometheus handler negotiates its own.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	h := handlers.New(ingest, cfg.WhatsApp.VerifyToken, db)

	// Liveness/health
	r.GET("/health", h.Health)

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// WhatsApp Cloud API webhook
	r.GET(WebhookPath, h.VerifyWebhook)
	r.POST(WebhookPath, h.ReceiveWebhook)
}

// knownFingerprint reports whether a delivery body was stored before. The
// rate limiter calls it only for requests over their client budget. Lookup
// errors are treated as unknown; the ingestion transaction re-checks anyway.
func knownFingerprint(db *gorm.DB) middleware.FingerprintLookup {
	if db == nil {
		return nil
	}
	return func(ctx context.Context, fp string) (bool, error) {
		_, err := repo.GetRawEventByFingerprint(ctx, db, fp)
		if errors.Is(err, repo.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
