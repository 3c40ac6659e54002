package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// withSecret sets the only variable that has no usable default.
func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", testSecret)
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	withSecret(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	withSecret(t)
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	withSecret(t)

	// Server
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // -> "/api/v1"

	// Database / content
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/app")
	t.Setenv("MAX_PROMPT_RUNES", "500")

	// Rate limiting (invalid values fall back to defaults)
	t.Setenv("RATE_RPS", "x")
	t.Setenv("RATE_BURST", "nope")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	// Tagged sections
	t.Setenv("AI_PROVIDER", " OpenRouter ")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("QUEUE_DELAY", "0s")
	t.Setenv("RATE_LIMIT_BACKEND", " Redis ")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "5")
	t.Setenv("WORKER_INLINE", "true")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("SSE_HEARTBEAT", "5s")
	t.Setenv("JWT_ACCESS_TTL", "1h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.DatabaseURL != "postgres://u:p@localhost:5432/app" || cfg.MaxPromptRunes != 500 {
		t.Fatalf("database/content unexpected: %+v", cfg)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 || cfg.RateBackend != "redis" {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour || cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}

	if cfg.AI.Provider != "openrouter" || cfg.AI.OpenRouterAPIKey != "or-key" || cfg.AI.OpenRouterModel != "openai/gpt-4o" {
		t.Fatalf("ai unexpected: %+v", cfg.AI)
	}
	if cfg.Queue.Backend != "redis" || cfg.Queue.Delay != 0 || cfg.Queue.MaxAttempts != 5 || cfg.Queue.Backoff != 5*time.Second {
		t.Fatalf("queue unexpected: %+v", cfg.Queue)
	}
	if !cfg.Worker.Inline || cfg.Worker.Concurrency != 8 || cfg.Worker.JobTimeout != 2*time.Minute {
		t.Fatalf("worker unexpected: %+v", cfg.Worker)
	}
	if cfg.SSE.Heartbeat != 5*time.Second || cfg.Redis.Channel != "content:events" {
		t.Fatalf("sse/redis unexpected: %+v %+v", cfg.SSE, cfg.Redis)
	}
	if cfg.Auth.AccessTTL != time.Hour || cfg.Auth.RefreshTTL != 720*time.Hour || cfg.Auth.Issuer != "go-content-backend" {
		t.Fatalf("auth unexpected: %+v", cfg.Auth)
	}
}

func TestLoad_TaggedDefaults(t *testing.T) {
	withSecret(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.AI.Provider != "gemini" || cfg.AI.GeminiModel != "gemini-1.5-flash" || cfg.AI.OpenRouterMaxTokens != 1000 {
		t.Fatalf("ai defaults unexpected: %+v", cfg.AI)
	}
	if cfg.Queue.Backend != "db" || cfg.Queue.Delay != time.Minute || cfg.Queue.MaxAttempts != 2 || cfg.Queue.VisibilityTimeout != 10*time.Minute {
		t.Fatalf("queue defaults unexpected: %+v", cfg.Queue)
	}
	if cfg.Worker.Inline || cfg.Worker.Concurrency != 4 || cfg.Worker.PollInterval != time.Second ||
		cfg.Worker.MetricsAddr != ":9091" || cfg.Worker.DepthInterval != 30*time.Second {
		t.Fatalf("worker defaults unexpected: %+v", cfg.Worker)
	}
	if cfg.SSE.Heartbeat != 15*time.Second || cfg.Auth.AccessTTL != 168*time.Hour {
		t.Fatalf("sse/auth defaults unexpected: %+v %+v", cfg.SSE, cfg.Auth)
	}
	if cfg.WriteTimeout != 0 || cfg.MaxPromptRunes != 2000 || cfg.APIBasePath != "/api/v1" || cfg.RateBackend != "memory" {
		t.Fatalf("server defaults unexpected: %+v", cfg)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH must not be empty"},
		{"prompt cap < 1", "MAX_PROMPT_RUNES", "0", "MAX_PROMPT_RUNES"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"hsts max age negative", "HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
		{"idempotency ttl non-positive", "IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
		{"unknown provider", "AI_PROVIDER", "llama", "AI_PROVIDER"},
		{"unknown rate backend", "RATE_LIMIT_BACKEND", "memcached", "RATE_LIMIT_BACKEND"},
		{"redis rate limiting without url", "RATE_LIMIT_BACKEND", "redis", "REDIS_URL"},
		{"unknown queue backend", "QUEUE_BACKEND", "kafka", "QUEUE_BACKEND"},
		{"redis backend without url", "QUEUE_BACKEND", "redis", "REDIS_URL"},
		{"attempts < 1", "QUEUE_MAX_ATTEMPTS", "0", "QUEUE_MAX_ATTEMPTS"},
		{"concurrency < 1", "WORKER_CONCURRENCY", "0", "WORKER_CONCURRENCY"},
		{"short secret", "JWT_SECRET", "too-short", "JWT_SECRET"},
		{"unparsable tagged duration", "QUEUE_DELAY", "soon", "queue"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withSecret(t)
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected error containing %q, got: %v", tc.want, err)
			}
		})
	}

	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		if _, err := Load(); err == nil || !containsErr(err, "JWT_SECRET") {
			t.Fatalf("expected JWT_SECRET validation error, got: %v", err)
		}
	})
	t.Run("DATABASE_URL replaces DB_PATH", func(t *testing.T) {
		withSecret(t)
		t.Setenv("DB_PATH", "   ")
		t.Setenv("DATABASE_URL", "postgres://localhost/app")
		if _, err := Load(); err != nil {
			t.Fatalf("expected success with DATABASE_URL, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", "42")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	trueVals := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	for i, v := range trueVals {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	falseVals := []string{"0", "false", "FALSE", " no ", "N", "off", "Off"}
	for i, v := range falseVals {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	want := []string{"a", "b", "c"}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, want) {
		t.Fatalf("splitCSV mismatch: got %#v want %#v", got, want)
	}

	for in, want := range map[string]string{"": "/", "v1": "/v1", "/v1/": "/v1", " / ": "/"} {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

// Keep the developer's environment out of the defaults under test.
func TestMain(m *testing.M) {
	for _, k := range []string{
		"PORT", "JWT_SECRET", "DATABASE_URL", "REDIS_URL", "QUEUE_BACKEND",
		"AI_PROVIDER", "WORKER_INLINE", "LOG_LEVEL", "RATE_LIMIT_BACKEND",
		"WORKER_METRICS_ADDR", "QUEUE_DEPTH_INTERVAL",
	} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
