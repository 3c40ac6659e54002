// Command api serves the content generation HTTP API.
//
// @title                       Content Generation API
// @version                     1.0
// @description                 Asynchronous AI content generation with threads, sentiment and live updates.
// @BasePath                    /api/v1
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-content-backend/docs"
	"github.com/tbourn/go-content-backend/internal/app"
	"github.com/tbourn/go-content-backend/internal/config"
	httpapi "github.com/tbourn/go-content-backend/internal/http"
	"github.com/tbourn/go-content-backend/internal/observability"
	"github.com/tbourn/go-content-backend/internal/queue"
)

var version = "dev"

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := config.MustLoad()
	app.InitLogging(cfg)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ComponentAPI, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	// Events published by workers elsewhere reach local streams via Redis.
	if a.Bus != nil {
		go func() {
			if err := a.Bus.Forward(ctx, a.Hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("event bus stopped")
			}
		}()
	}

	var worker *queue.Worker
	if cfg.Worker.Inline {
		worker, err = a.NewWorker()
		if err != nil {
			log.Fatal().Err(err).Msg("worker setup failed")
		}
		worker.Start(ctx)
		log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("inline worker started")
	}

	go a.PurgeIdempotency(ctx, time.Hour)
	go queue.ObserveDepth(ctx, a.Store, cfg.Worker.DepthInterval)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:      a.DB,
		Content: a.Content,
		AI:      a.AI,
		Hub:     a.Hub,
		Tokens:  a.Tokens,
		Redis:   a.Redis,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Open streams never finish on their own; end them before draining.
	a.Hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if worker != nil {
		worker.Wait()
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	a.Close()
	log.Info().Msg("server stopped")
}
