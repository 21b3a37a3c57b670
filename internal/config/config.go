// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database selection, WhatsApp webhook
// credentials, downstream job submission, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "wamcp-ingest")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WhatsAppConfig holds the Cloud API webhook credentials. Every field accepts
// the primary variable name plus the aliases used by older deployments.
type WhatsAppConfig struct {
	VerifyToken     string // WHATSAPP_VERIFY_TOKEN | WHATSAPP_WEBHOOK_VERIFY_TOKEN | WHATSAPP_VERIFY
	AppSecret       string // WHATSAPP_APP_SECRET | WHATSAPP_SECRET | APP_SECRET
	AccessToken     string // WHATSAPP_ACCESS_TOKEN | WHATSAPP_API_TOKEN | WHATSAPP_API_KEY | WHATSAPP_TOKEN
	PhoneNumberID   string // WHATSAPP_PHONE_NUMBER_ID | PHONE_NUMBER_ID
	VerifySignature bool   // VERIFY_WEBHOOK_SIGNATURE | VERIFY_WEBHOOK | VERIFY_SIGNATURE (default true)
	PluginMode      bool   // WAMCP_PLUGIN_MODE disables webhook ingestion
}

// EchoConfig controls the debug echo side effect.
type EchoConfig struct {
	Enabled       bool          // DEBUG_ECHO_MODE
	AllowNumbers  []string      // DEBUG_ECHO_ALLOWLIST_E164
	AllowGroupIDs []string      // DEBUG_ECHO_ALLOW_GROUP_IDS
	Cooldown      time.Duration // DEBUG_ECHO_RATE_LIMIT_SECONDS
	GroupFallback bool          // DEBUG_ECHO_GROUP_FALLBACK
}

// QueueConfig selects where post-commit jobs are submitted.
type QueueConfig struct {
	Backend     string // log|redis|nats
	RedisURL    string
	RedisStream string
	NATSURL     string
	NATSSubject string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // webhook body cap
	GinMode           string        // debug|release|test
	AppEnv            string        // dev|staging|prod

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	WhatsApp WhatsAppConfig
	Echo     EchoConfig
	Queue    QueueConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("MAX_BODY_BYTES", 1<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		AppEnv:            strings.ToLower(getenv("APP_ENV", "dev")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		// Storage
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "wamcp.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Rate limiting (generous: the platform retries on 429)
		RateRPS:   getfloat("RATE_RPS", 50.0),
		RateBurst: getint("RATE_BURST", 100),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		WhatsApp: WhatsAppConfig{
			VerifyToken:     firstEnv("WHATSAPP_VERIFY_TOKEN", "WHATSAPP_WEBHOOK_VERIFY_TOKEN", "WHATSAPP_VERIFY"),
			AppSecret:       firstEnv("WHATSAPP_APP_SECRET", "WHATSAPP_SECRET", "APP_SECRET"),
			AccessToken:     firstEnv("WHATSAPP_ACCESS_TOKEN", "WHATSAPP_API_TOKEN", "WHATSAPP_API_KEY", "WHATSAPP_TOKEN"),
			PhoneNumberID:   firstEnv("WHATSAPP_PHONE_NUMBER_ID", "PHONE_NUMBER_ID"),
			VerifySignature: getbool(firstSetKey("VERIFY_WEBHOOK_SIGNATURE", "VERIFY_WEBHOOK", "VERIFY_SIGNATURE"), true),
			PluginMode:      getbool("WAMCP_PLUGIN_MODE", false),
		},
		Echo: EchoConfig{
			Enabled:       getbool("DEBUG_ECHO_MODE", false),
			AllowNumbers:  splitCSV(getenv("DEBUG_ECHO_ALLOWLIST_E164", "")),
			AllowGroupIDs: splitCSV(getenv("DEBUG_ECHO_ALLOW_GROUP_IDS", "")),
			Cooldown:      time.Duration(getint("DEBUG_ECHO_RATE_LIMIT_SECONDS", 60)) * time.Second,
			GroupFallback: getbool("DEBUG_ECHO_GROUP_FALLBACK", false),
		},
		Queue: QueueConfig{
			Backend:     strings.ToLower(getenv("QUEUE_BACKEND", "log")),
			RedisURL:    getenv("REDIS_URL", ""),
			RedisStream: getenv("REDIS_STREAM", "wamcp:jobs"),
			NATSURL:     getenv("NATS_URL", ""),
			NATSSubject: getenv("NATS_SUBJECT", "wamcp.jobs"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "wamcp-ingest"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" || cfg.DBDriver == "pg" {
		cfg.DBDriver = "postgres"
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field invariants. It is called by Load and may be
// called again by tests or tools that build a Config by hand.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	switch cfg.Queue.Backend {
	case "log":
	case "redis":
		if strings.TrimSpace(cfg.Queue.RedisURL) == "" {
			return errors.New("REDIS_URL is required when QUEUE_BACKEND=redis")
		}
	case "nats":
		if strings.TrimSpace(cfg.Queue.NATSURL) == "" {
			return errors.New("NATS_URL is required when QUEUE_BACKEND=nats")
		}
	default:
		return errors.New("QUEUE_BACKEND must be one of: log, redis, nats")
	}
	if cfg.Echo.Cooldown < 0 {
		return errors.New("DEBUG_ECHO_RATE_LIMIT_SECONDS must be >= 0")
	}

	// Plugin mode never receives webhooks, so credentials are not required.
	if cfg.WhatsApp.PluginMode {
		return nil
	}
	if cfg.WhatsApp.VerifySignature && strings.TrimSpace(cfg.WhatsApp.AppSecret) == "" {
		return errors.New("VERIFY_WEBHOOK_SIGNATURE=true requires WHATSAPP_APP_SECRET (or aliases WHATSAPP_SECRET / APP_SECRET)")
	}
	if isPlaceholder(cfg.WhatsApp.PhoneNumberID) {
		return errors.New("WHATSAPP_PHONE_NUMBER_ID is set to a placeholder value")
	}
	if cfg.Echo.Enabled {
		if strings.TrimSpace(cfg.WhatsApp.AccessToken) == "" || isPlaceholder(cfg.WhatsApp.AccessToken) {
			return errors.New("DEBUG_ECHO_MODE=true requires a valid WHATSAPP_ACCESS_TOKEN")
		}
		if strings.TrimSpace(cfg.WhatsApp.PhoneNumberID) == "" {
			return errors.New("DEBUG_ECHO_MODE=true requires WHATSAPP_PHONE_NUMBER_ID (or alias PHONE_NUMBER_ID)")
		}
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (cfg Config) Addr() string { return ":" + cfg.Port }

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-blank value among the given variables.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// firstSetKey returns the first variable name that is set and non-blank, or
// the first name when none is set (so getbool falls back to its default).
func firstSetKey(keys ...string) string {
	for _, k := range keys {
		if strings.TrimSpace(os.Getenv(k)) != "" {
			return k
		}
	}
	return keys[0]
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// isPlaceholder reports values copied verbatim from example env files.
func isPlaceholder(v string) bool {
	n := strings.ToLower(strings.TrimSpace(v))
	if n == "" {
		return false
	}
	switch n {
	case "string", "replace_me", "replaceme", "changeme", "todo":
		return true
	}
	return strings.HasPrefix(n, "your_") || strings.HasSuffix(n, "_placeholder")
}
