// Package main provides the entrypoint for the ingestion worker: periodic
// realtime passes, Pub/Sub-triggered runs and the ops HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aqplatform/ingestion/internal/api"
	"github.com/aqplatform/ingestion/internal/api/handler"
	"github.com/aqplatform/ingestion/internal/api/middleware"
	"github.com/aqplatform/ingestion/internal/airquality/aqicn"
	"github.com/aqplatform/ingestion/internal/config"
	"github.com/aqplatform/ingestion/internal/ingestion"
	"github.com/aqplatform/ingestion/internal/observability"
	"github.com/aqplatform/ingestion/internal/provider/resilience"
	"github.com/aqplatform/ingestion/internal/store"
	"github.com/aqplatform/ingestion/internal/telemetry"
	"github.com/aqplatform/ingestion/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "aq-ingestion-worker"

func main() {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat, serviceName, os.Stdout).
		With().
		Str("version", Version).
		Logger()

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}

func run(cfg config.Config, log zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().
		Str("build_time", BuildTime).
		Str("mode", cfg.Mode).
		Dur("interval", cfg.Interval).
		Msg("starting ingestion worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}
	metrics := observability.NewMetrics()

	st, err := store.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return err
	}
	defer st.Close()
	log.Info().Msg("store connected")

	if cfg.EnsureSchema {
		if err := store.EnsureSchema(ctx, st); err != nil {
			return err
		}
		log.Info().Msg("schema ensured")
	}

	registry := resilience.NewRegistry()
	orch := ingestion.New(ingestion.Config{
		Store:       st,
		MappingPath: cfg.StationMappingPath,
		DataDir:     cfg.HistoricalDataPath,
		Realtime: realtimeSource(aqicn.ClientConfig{
			Token:    cfg.AQICN.Token,
			BaseURL:  cfg.AQICN.BaseURL,
			Timeout:  cfg.AQICN.Timeout,
			Registry: registry,
			Logger:   log,
		}, log),
		Cities:  cfg.AQICN.Cities,
		Logger:  log,
		Metrics: metrics,
		Tracer:  telemetry.Tracer(),
	})

	schedCfg := worker.DefaultSchedulerConfig()
	schedCfg.Interval = cfg.Interval
	schedCfg.Mode = ingestion.Mode(cfg.Mode)
	scheduler := worker.NewScheduler(worker.SchedulerOptions{
		Config: schedCfg,
		Runner: orch,
		Logger: log,
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.RouterConfig{
			Version:   Version,
			BuildTime: BuildTime,
			Logger:    log,
			Metrics:   httpMetrics,
			Ops: handler.OpsDeps{
				Store:     st,
				Providers: registry,
				Runs:      orch,
				Scheduler: scheduler,
			},
			Prometheus: metrics.Handler(),
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var subscriber *worker.PubSubHandler
	if cfg.PubSubEnabled() {
		subscriber, err = worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSubProjectID,
			SubscriptionName: cfg.PubSubSubscription,
			Runner:           orch,
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer subscriber.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return ignoreCanceled(scheduler.Start(ctx))
	})

	if subscriber != nil {
		g.Go(func() error {
			return ignoreCanceled(subscriber.Start(ctx))
		})
	}

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// realtimeSource shares one AQICN client across passes so its circuit breaker
// sees every request. Without a token, realtime runs fail with
// aqicn.ErrMissingToken while historical runs keep working.
func realtimeSource(cfg aqicn.ClientConfig, log zerolog.Logger) ingestion.RealtimeSourceFunc {
	client, err := aqicn.NewClient(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("aqicn client unavailable, realtime runs will fail")
		return ingestion.AQICNSource(cfg)
	}
	return ingestion.ClientSource(client)
}
