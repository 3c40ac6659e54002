// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic router setup; all process-level dependencies injected
//   - Per-user concerns (idempotency, rate limits) run after authentication
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/auth"
	"github.com/tbourn/go-content-backend/internal/config"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/http/handlers"
	"github.com/tbourn/go-content-backend/internal/http/middleware"
	"github.com/tbourn/go-content-backend/internal/notify"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
)

// threadRepoShim adapts the repository free functions to the
// services.ThreadRepo interface expected by the ThreadService.
type threadRepoShim struct{}

// GetThread proxies repo.GetThread.
func (threadRepoShim) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return repo.GetThread(ctx, db, id, userID)
}

// CountThreads proxies repo.CountThreads (pagination support).
func (threadRepoShim) CountThreads(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter) (int64, error) {
	return repo.CountThreads(ctx, db, userID, f)
}

// ListThreadsPage proxies repo.ListThreadsPage (pagination support).
func (threadRepoShim) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter, offset, limit int) ([]domain.Thread, error) {
	return repo.ListThreadsPage(ctx, db, userID, f, offset, limit)
}

// UpdateThread proxies repo.UpdateThread.
func (threadRepoShim) UpdateThread(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	return repo.UpdateThread(ctx, db, id, userID, fields)
}

// SoftDeleteThread proxies repo.SoftDeleteThread.
func (threadRepoShim) SoftDeleteThread(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.SoftDeleteThread(ctx, db, id, userID)
}

// LatestContentByThreadIDs proxies repo.LatestContentByThreadIDs.
func (threadRepoShim) LatestContentByThreadIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]*domain.Content, error) {
	return repo.LatestContentByThreadIDs(ctx, db, ids)
}

// ListThreadContents proxies repo.ListThreadContents.
func (threadRepoShim) ListThreadContents(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Content, error) {
	return repo.ListThreadContents(ctx, db, threadID)
}

// CountContentsByStatus proxies repo.CountContentsByStatus.
func (threadRepoShim) CountContentsByStatus(ctx context.Context, db *gorm.DB, userID string) (map[domain.ContentStatus]int64, error) {
	return repo.CountContentsByStatus(ctx, db, userID)
}

// Deps are the process-level collaborators shared with the worker: the
// database, the content orchestrator (which owns the queue and gateway), the
// AI completer used for sentiment analysis, the stream hub and the token
// manager. Redis is optional and backs the shared rate limiter.
type Deps struct {
	DB      *gorm.DB
	Content *services.ContentService
	AI      services.Completer
	Hub     *notify.Hub
	Tokens  *auth.TokenManager
	Redis   redis.UniversalClient
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and Security headers
//  8. gzip (never on the event stream)
//
// Per group, protected routes then run RequireAuth, the idempotency
// validator (so the replay lookup is scoped to the caller) and the rate
// limiter (which lets replays through).
func RegisterRoutes(r *gin.Engine, d Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath
	if apiBase == "/" {
		apiBase = ""
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture and security headers
	useCORS(r, cfg.CORS.AllowedOrigins)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		EnablePolicy:    true,
		NoStorePrefixes: []string{apiBase + "/auth"},
		HTMLPrefixes:    []string{"/swagger"},
		StreamPrefixes:  []string{apiBase + "/sse"},
	}))

	// 8) Response compression; streams must reach the client unbuffered
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{apiBase + "/sse", "/metrics"}),
	))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db
	h := handlers.New(handlers.Deps{
		Content:        d.Content,
		Threads:        services.NewThreadService(d.DB, threadRepoShim{}),
		Sentiment:      &services.SentimentService{DB: d.DB, AI: d.AI},
		Auth:           &services.AuthService{DB: d.DB, Tokens: d.Tokens},
		Hub:            d.Hub,
		DB:             d.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Heartbeat:      cfg.SSE.Heartbeat,
	})

	rl := newRateLimiter(cfg, d.Redis)
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (string, error) {
			rec, err := repo.GetIdempotency(ctx, d.DB, userID, scope, key, now)
			if err != nil || rec == nil {
				return "", err
			}
			return rec.ResourceID, nil
		},
	)

	api := groupWithPrefix(r, apiBase)

	// Public: auth (rate limited per client IP)
	pub := api.Group("/auth", rl.Handler())
	{
		pub.POST("/register", h.Register)
		pub.POST("/login", h.Login)
		pub.POST("/refresh", h.Refresh)
	}

	// Protected API
	authed := api.Group("", middleware.RequireAuth(d.Tokens, false), idem, rl.Handler())
	{
		// Content
		authed.POST("/content/generate", h.GenerateContent)
		authed.GET("/content/:id", h.GetContent)
		authed.PATCH("/content/:id", h.UpdateContent)

		// Threads
		authed.GET("/threads", h.ListThreads)
		authed.GET("/threads/summary", h.ThreadSummary)
		authed.GET("/threads/:id", h.GetThread)
		authed.PUT("/threads/:id", h.UpdateThread)
		authed.DELETE("/threads/:id", h.DeleteThread)

		// Sentiment
		authed.POST("/sentiment/analyze", h.AnalyzeSentiment)

		authed.DELETE("/sse/stream", h.CloseStreams)
	}

	// Event stream: EventSource clients pass the token in the query string
	api.GET("/sse/stream", middleware.RequireAuth(d.Tokens, true), h.Stream)
}

// newRateLimiter shares budgets through Redis when RATE_LIMIT_BACKEND=redis
// and a client is available; otherwise buckets are process-local.
func newRateLimiter(cfg config.Config, rdb redis.UniversalClient) *middleware.RateLimiter {
	if cfg.RateBackend == "redis" && rdb != nil {
		lim := middleware.NewRedisLimiterFromRate(rdb, "content:ratelimit", cfg.RateRPS, cfg.RateBurst)
		return middleware.NewRateLimiterWith(lim, middleware.KeyByUserOrIP())
	}
	return middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
}

// useCORS installs gin-contrib/cors. Without configured origins every origin
// is allowed (without credentials); otherwise the allowlist is echoed.
func useCORS(r *gin.Engine, origins []string) {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	if len(origins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
		return
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	r.Use(func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if _, ok := allowed[origin]; ok {
				h := c.Writer.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
		}
		c.Next()
	})
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     methods,
		AllowHeaders:     allowHeaders,
		ExposeHeaders:    exposeHeaders,
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
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

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
