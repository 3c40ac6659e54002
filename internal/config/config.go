// Package config provides application configuration loaded from environment
// variables with defaults and validation. Server, logging, database, rate
// limiting and observability settings are read with the small getenv helpers
// below; the AI, queue, worker, Redis and auth sections are declared with
// env struct tags and read by cleanenv.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/tbourn/go-content-backend/internal/sysutil"
)

// MinJWTSecretLen is the shortest accepted JWT_SECRET.
const MinJWTSecretLen = 32

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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-content-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AIConfig selects and configures the AI providers. A provider without an
// API key is not registered.
type AIConfig struct {
	Provider string        `env:"AI_PROVIDER" env-default:"gemini"`
	Timeout  time.Duration `env:"AI_TIMEOUT"  env-default:"60s"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiModel   string `env:"GEMINI_MODEL"    env-default:"gemini-1.5-flash"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" env-default:"https://generativelanguage.googleapis.com/v1beta"`

	OpenRouterAPIKey    string `env:"OPENROUTER_API_KEY"`
	OpenRouterModel     string `env:"OPENROUTER_MODEL"      env-default:"openai/gpt-4o"`
	OpenRouterBaseURL   string `env:"OPENROUTER_BASE_URL"   env-default:"https://openrouter.ai/api/v1"`
	OpenRouterSiteURL   string `env:"OPENROUTER_SITE_URL"`
	OpenRouterSiteName  string `env:"OPENROUTER_SITE_NAME"`
	OpenRouterMaxTokens int64  `env:"OPENROUTER_MAX_TOKENS" env-default:"1000"`
}

// QueueConfig configures job storage and the defaults of generation jobs.
type QueueConfig struct {
	Backend           string        `env:"QUEUE_BACKEND"            env-default:"db"`
	Delay             time.Duration `env:"QUEUE_DELAY"              env-default:"60s"`
	MaxAttempts       int           `env:"QUEUE_MAX_ATTEMPTS"       env-default:"2"`
	Backoff           time.Duration `env:"QUEUE_BACKOFF"            env-default:"5s"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" env-default:"10m"`
	RedisPrefix       string        `env:"QUEUE_REDIS_PREFIX"       env-default:"content:queue"`
}

// WorkerConfig configures the job worker. Inline runs it inside the API
// process.
type WorkerConfig struct {
	Inline       bool          `env:"WORKER_INLINE"        env-default:"false"`
	Concurrency  int           `env:"WORKER_CONCURRENCY"   env-default:"4"`
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" env-default:"1s"`
	JobTimeout   time.Duration `env:"WORKER_JOB_TIMEOUT"   env-default:"2m"`
	// MetricsAddr is where the standalone worker serves /metrics; empty
	// disables it.
	MetricsAddr string `env:"WORKER_METRICS_ADDR" env-default:":9091"`
	// DepthInterval is how often the queue_jobs gauge is sampled.
	DepthInterval time.Duration `env:"QUEUE_DEPTH_INTERVAL" env-default:"30s"`
}

// RedisConfig enables the Redis queue store and event fan-out when URL is set.
type RedisConfig struct {
	URL     string `env:"REDIS_URL"`
	Channel string `env:"SSE_REDIS_CHANNEL" env-default:"content:events"`
}

// SSEConfig configures the event stream endpoint.
type SSEConfig struct {
	Heartbeat time.Duration `env:"SSE_HEARTBEAT" env-default:"15s"`
	Buffer    int           `env:"SSE_BUFFER"    env-default:"16"`
}

// AuthConfig configures JWT issuance.
type AuthConfig struct {
	JWTSecret  string        `env:"JWT_SECRET"`
	Issuer     string        `env:"JWT_ISSUER"      env-default:"go-content-backend"`
	AccessTTL  time.Duration `env:"JWT_ACCESS_TTL"  env-default:"168h"`
	RefreshTTL time.Duration `env:"JWT_REFRESH_TTL" env-default:"720h"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // 0 disables; event streams are long-lived
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful shutdown budget
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // trace|debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Database
	DBPath      string // SQLite path, used when DatabaseURL is empty
	DatabaseURL string // PostgreSQL DSN

	// Content
	MaxPromptRunes int

	// Rate limiting
	RateRPS     float64 // tokens per second (>= 0)
	RateBurst   int     // bucket size (>= 1)
	RateBackend string  // memory|redis

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig

	AI     AIConfig
	Queue  QueueConfig
	Worker WorkerConfig
	Redis  RedisConfig
	SSE    SSEConfig
	Auth   AuthConfig
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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 0),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Database
		DBPath:      getenv("DB_PATH", "app.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		MaxPromptRunes: getint("MAX_PROMPT_RUNES", 2000),

		// Rate limiting
		RateRPS:     getfloat("RATE_RPS", 5.0),
		RateBurst:   getint("RATE_BURST", 10),
		RateBackend: strings.ToLower(strings.TrimSpace(getenv("RATE_LIMIT_BACKEND", "memory"))),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-content-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	for name, section := range map[string]any{
		"ai":     &cfg.AI,
		"queue":  &cfg.Queue,
		"worker": &cfg.Worker,
		"redis":  &cfg.Redis,
		"sse":    &cfg.SSE,
		"auth":   &cfg.Auth,
	} {
		if err := cleanenv.ReadEnv(section); err != nil {
			return cfg, fmt.Errorf("config: read %s env: %w", name, err)
		}
	}

	// --- normalization ---
	if lvl, ok := sysutil.ParseLevel(cfg.LogLevel); ok {
		cfg.LogLevel = lvl.String()
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.AI.Provider = strings.ToLower(strings.TrimSpace(cfg.AI.Provider))
	cfg.Queue.Backend = strings.ToLower(strings.TrimSpace(cfg.Queue.Backend))

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if _, ok := sysutil.ParseLevel(cfg.LogLevel); !ok {
		return errors.New("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.WriteTimeout < 0 {
		return errors.New("WRITE_TIMEOUT must be >= 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" && strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.MaxPromptRunes < 1 {
		return errors.New("MAX_PROMPT_RUNES must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}
	switch cfg.RateBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Redis.URL) == "" {
			return errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
		}
	default:
		return errors.New("RATE_LIMIT_BACKEND must be memory or redis")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	switch cfg.AI.Provider {
	case "gemini", "openrouter":
	default:
		return errors.New("AI_PROVIDER must be gemini or openrouter")
	}
	switch cfg.Queue.Backend {
	case "db":
	case "redis":
		if strings.TrimSpace(cfg.Redis.URL) == "" {
			return errors.New("QUEUE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return errors.New("QUEUE_BACKEND must be db or redis")
	}
	if cfg.Queue.Delay < 0 {
		return errors.New("QUEUE_DELAY must be >= 0")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return errors.New("QUEUE_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.Queue.Backoff <= 0 || cfg.Queue.VisibilityTimeout <= 0 {
		return errors.New("QUEUE_BACKOFF and QUEUE_VISIBILITY_TIMEOUT must be > 0")
	}
	if cfg.Worker.Concurrency < 1 {
		return errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.JobTimeout <= 0 {
		return errors.New("WORKER_POLL_INTERVAL and WORKER_JOB_TIMEOUT must be > 0")
	}
	if cfg.SSE.Heartbeat <= 0 || cfg.SSE.Buffer < 1 {
		return errors.New("SSE_HEARTBEAT must be > 0 and SSE_BUFFER >= 1")
	}
	if len(cfg.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d characters", MinJWTSecretLen)
	}
	if cfg.Auth.AccessTTL <= 0 || cfg.Auth.RefreshTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be > 0")
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
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
	if b, ok := sysutil.ParseBool(os.Getenv(k)); ok {
		return b
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

// normalizeBasePath ensures a leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
