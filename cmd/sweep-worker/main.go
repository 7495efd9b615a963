package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
	"github.com/carebook/booking-engine/internal/config"
	"github.com/carebook/booking-engine/internal/db"
	"github.com/carebook/booking-engine/internal/metrics"
	"github.com/carebook/booking-engine/internal/payments"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).
		Level(level).With().Timestamp().Str("service", "sweep-worker").Logger()

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweep-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	var provider appointment.PaymentProvider
	if cfg.ProviderAPIKey != "" {
		provider = payments.NewStripeProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, logger)
	} else {
		provider = payments.NewFakeProvider()
	}

	repo := appointment.NewPgRepository(pgPool)
	clinicRepo := clinic.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, clinicRepo, provider, logger, cfg.PaymentHoldTTL)

	// Metrics endpoint so the sweep counter is scrapeable.
	metricsSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	// Run once at startup
	runOnce(rootCtx, svc, engineMetrics, logger)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping sweep worker")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			_ = metricsSrv.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, engineMetrics, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, m *metrics.EngineMetrics, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	cancelled, err := svc.SweepOverdue(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("sweep run error")
		return
	}

	m.AddSweepCancelled(cancelled)
	logger.Info().
		Int("cancelled", cancelled).
		Dur("elapsed", time.Since(start)).
		Msg("sweep run complete")
}
