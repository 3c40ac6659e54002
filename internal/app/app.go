// Package app assembles the process-level collaborators shared by the API
// server and the generation worker: database, AI gateway, job queue, event
// fan-out and token manager.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/ai"
	"github.com/tbourn/go-content-backend/internal/auth"
	"github.com/tbourn/go-content-backend/internal/config"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/notify"
	"github.com/tbourn/go-content-backend/internal/queue"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
	"github.com/tbourn/go-content-backend/internal/sysutil"
)

// App holds the wired dependencies of one process.
type App struct {
	Cfg config.Config

	DB      *gorm.DB
	Redis   redis.UniversalClient // nil without REDIS_URL
	AI      *ai.Gateway
	Store   queue.Store
	Queue   *queue.Queue
	Hub     *notify.Hub
	Bus     *notify.RedisBus // nil without REDIS_URL
	Content *services.ContentService
	Tokens  *auth.TokenManager
}

// InitLogging applies the configured level and, when LOG_PRETTY is set,
// switches the global logger to a console writer.
func InitLogging(cfg config.Config) {
	sysutil.SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// New opens the database (migrating it), connects Redis when configured and
// wires the queue, gateway, hub and content orchestrator. Close releases
// what New opened.
func New(cfg config.Config) (*App, error) {
	a := &App{Cfg: cfg}

	dsn := sysutil.FirstNonEmpty(cfg.DatabaseURL, cfg.DBPath)
	db, err := repo.Open(dsn, cfg.OTEL.Enabled)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if err := repo.AutoMigrate(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.Redis = redis.NewClient(opts)
		a.Bus = notify.NewRedisBus(a.Redis, cfg.Redis.Channel)
	}

	store, err := NewStore(cfg.Queue, db, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store
	a.Queue = queue.New(store, queue.Options{Delay: cfg.Queue.Delay, MaxAttempts: cfg.Queue.MaxAttempts})

	a.AI = NewGateway(cfg.AI)
	if len(a.AI.Providers()) == 0 {
		log.Warn().Msg("no AI provider has an API key; generations will fail")
	}

	a.Hub = notify.NewHub(cfg.SSE.Buffer)

	var pub notify.Publisher = a.Hub
	if a.Bus != nil {
		pub = a.Bus
	}
	a.Content = services.NewContentService(db, a.Queue, a.AI, pub)
	a.Content.MaxPromptRunes = cfg.MaxPromptRunes

	tm, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("token manager: %w", err)
	}
	a.Tokens = tm

	return a, nil
}

// NewStore picks the job store for QUEUE_BACKEND.
func NewStore(qc config.QueueConfig, db *gorm.DB, rdb redis.UniversalClient) (queue.Store, error) {
	switch qc.Backend {
	case "", "db":
		return queue.NewDBStore(db, qc.VisibilityTimeout), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("QUEUE_BACKEND=redis needs REDIS_URL")
		}
		return queue.NewRedisStore(rdb, qc.RedisPrefix, qc.VisibilityTimeout), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", qc.Backend)
	}
}

// NewGateway registers every provider that has an API key. The default is
// AI_PROVIDER even when it is not registered, so calls fail loudly rather
// than silently switching vendors.
func NewGateway(ac config.AIConfig) *ai.Gateway {
	client := &http.Client{Timeout: ac.Timeout}
	gw := ai.NewGateway(domain.Provider(ac.Provider))

	if ac.GeminiAPIKey != "" {
		g, err := ai.NewGemini(ai.GeminiOptions{
			APIKey:     ac.GeminiAPIKey,
			Model:      ac.GeminiModel,
			BaseURL:    ac.GeminiBaseURL,
			HTTPClient: client,
		})
		if err != nil {
			log.Warn().Err(err).Msg("gemini provider disabled")
		} else {
			gw.Register(g)
		}
	}
	if ac.OpenRouterAPIKey != "" {
		o, err := ai.NewOpenRouter(ai.OpenRouterOptions{
			APIKey:     ac.OpenRouterAPIKey,
			Model:      ac.OpenRouterModel,
			BaseURL:    ac.OpenRouterBaseURL,
			SiteURL:    ac.OpenRouterSiteURL,
			SiteName:   ac.OpenRouterSiteName,
			MaxTokens:  ac.OpenRouterMaxTokens,
			HTTPClient: client,
		})
		if err != nil {
			log.Warn().Err(err).Msg("openrouter provider disabled")
		} else {
			gw.Register(o)
		}
	}
	return gw
}

// NewWorker returns a queue worker with the generation handler registered.
func (a *App) NewWorker() (*queue.Worker, error) {
	reg := queue.NewRegistry()
	if err := reg.Register(services.TaskGenerateContent, a.Content.HandleJob); err != nil {
		return nil, err
	}
	return queue.NewWorker(a.Store, reg, queue.WorkerOptions{
		Concurrency:  a.Cfg.Worker.Concurrency,
		PollInterval: a.Cfg.Worker.PollInterval,
		JobTimeout:   a.Cfg.Worker.JobTimeout,
		Backoff:      a.Cfg.Queue.Backoff,
	}), nil
}

// PurgeIdempotency deletes expired idempotency records every interval until
// ctx is done.
func (a *App) PurgeIdempotency(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, a.DB, time.Now().UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency keys")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("purged idempotency keys")
			}
		}
	}
}

// Close releases the hub, Redis and the database pool.
func (a *App) Close() {
	if a.Hub != nil {
		a.Hub.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("close redis")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
