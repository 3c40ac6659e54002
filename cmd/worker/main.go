// Command worker runs queued content generations outside the API process.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-content-backend/internal/app"
	"github.com/tbourn/go-content-backend/internal/config"
	"github.com/tbourn/go-content-backend/internal/observability"
	"github.com/tbourn/go-content-backend/internal/queue"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	app.InitLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ComponentWorker, version)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: otel setup failed")
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("worker: bootstrap failed")
	}
	if a.Bus == nil {
		log.Warn().Msg("worker: REDIS_URL not set; completion events stay in this process and no stream will see them")
	}

	w, err := a.NewWorker()
	if err != nil {
		log.Fatal().Err(err).Msg("worker: setup failed")
	}
	w.Start(ctx)
	go queue.ObserveDepth(ctx, a.Store, cfg.Worker.DepthInterval)

	var metricsSrv *http.Server
	if cfg.Worker.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Worker.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("worker: metrics server failed")
			}
		}()
	}

	log.Info().
		Str("backend", cfg.Queue.Backend).
		Int("concurrency", cfg.Worker.Concurrency).
		Str("metrics_addr", cfg.Worker.MetricsAddr).
		Msg("worker started")

	<-ctx.Done()
	log.Info().Msg("worker: draining")
	w.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("worker: otel shutdown")
	}
	a.Close()
	log.Info().Msg("worker stopped")
}
