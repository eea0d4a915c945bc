package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-scorer/internal/cfg"
	"signal-scorer/internal/ingest"
	"signal-scorer/internal/metrics"
	"signal-scorer/internal/ml"
	"signal-scorer/internal/server"
	"signal-scorer/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	samples, err := storage.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Msg("sample store initialization failed")
	}
	defer samples.Close()

	modelStore, err := ml.NewModelStore(c.ModelDir, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("model store initialization failed")
	}

	cls, err := ml.NewClassifier(classifierConfig(c), pipelineConfig(c), modelStore, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("classifier initialization failed")
	}

	loadSavedModel(cls)

	var remote *ingest.RemoteSource
	if c.RemoteURL != "" {
		remote = ingest.NewRemoteSource(c.RemoteURL, c.RemoteAPIKey, c.RESTTimeout)
		log.Info().Str("url", c.RemoteURL).Msg("remote sample source configured")
	}

	srv := server.New(cls, samples, remote, m, c.MaxBatchSize, log.Logger)

	startMetricsServer(ctx, c, m, cls)
	startAPIServer(ctx, c, srv, cancel)

	waitForShutdown(ctx)
	srv.Shutdown()
}

// loadSavedModel restores the persisted generation if one exists. A missing
// model is normal on first boot, and an unreadable or incomplete one is
// treated the same way: the service starts not-ready and recovers on the next
// training run.
func loadSavedModel(cls *ml.Classifier) {
	switch err := cls.Load(); {
	case err == nil:
		log.Info().Str("version", cls.Version()).Msg("saved model loaded")
	case errors.Is(err, ml.ErrNotReady):
		log.Info().Msg("no saved model, starting not-ready")
	case errors.Is(err, ml.ErrIncompleteArtifact):
		log.Error().Err(err).Msg("saved model is incomplete, starting not-ready")
	default:
		log.Error().Err(err).Msg("model load failed, starting not-ready")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func classifierConfig(c cfg.Settings) ml.ClassifierConfig {
	return ml.ClassifierConfig{
		WeightA:         c.WeightA,
		WeightB:         c.WeightB,
		HighThreshold:   c.HighThreshold,
		MediumThreshold: c.MediumThreshold,
		LowThreshold:    c.LowThreshold,
		CacheSize:       c.CacheSize,
	}
}

func pipelineConfig(c cfg.Settings) ml.PipelineConfig {
	pc := ml.DefaultPipelineConfig()
	pc.WeightA = c.WeightA
	pc.WeightB = c.WeightB
	pc.MinSamples = c.MinSamples
	pc.Folds = c.Folds
	return pc
}

// startMetricsServer serves Prometheus metrics and keeps the model age gauge
// current.
func startMetricsServer(ctx context.Context, c cfg.Settings, m *metrics.Metrics, cls *ml.Classifier) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if stats := cls.Stats(); stats.Trained {
					m.ModelAge.Set(time.Since(stats.TrainedAt).Seconds())
					m.ModelMeanAUC.Set(stats.MeanAUC)
				}
			}
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := srv.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func startAPIServer(ctx context.Context, c cfg.Settings, srv *server.Server, cancel context.CancelFunc) {
	go func() {
		httpSrv := &http.Server{
			Addr:              c.ListenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      5 * time.Minute, // training requests block until the run completes
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown API server")
			}
		}()

		log.Info().Str("addr", c.ListenAddr).Msg("API server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server failed")
			cancel()
		}
	}()
}

func waitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
}
