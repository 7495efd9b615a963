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
	"github.com/rs/zerolog"

	"github.com/carebook/booking-engine/internal/api"
	"github.com/carebook/booking-engine/internal/appointment"
	"github.com/carebook/booking-engine/internal/clinic"
	"github.com/carebook/booking-engine/internal/config"
	"github.com/carebook/booking-engine/internal/db"
	"github.com/carebook/booking-engine/internal/metrics"
	"github.com/carebook/booking-engine/internal/payments"
	redisclient "github.com/carebook/booking-engine/internal/redis"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		stderrLogger := zerolog.New(os.Stderr)
		stderrLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := newLogger(cfg)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

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

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	engineMetrics := metrics.NewEngineMetrics(prometheus.DefaultRegisterer)

	var provider appointment.PaymentProvider
	if cfg.ProviderAPIKey != "" {
		provider = payments.NewStripeProvider(cfg.ProviderBaseURL, cfg.ProviderAPIKey, logger)
	} else {
		logger.Warn().Msg("no payment provider key configured, using fake provider")
		provider = payments.NewFakeProvider()
	}

	clinicRepo := clinic.NewPgRepository(pgPool)
	apptRepo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(apptRepo, clinicRepo, provider, logger, cfg.PaymentHoldTTL)

	locker := redisclient.NewRedisIntentLocker(rdb, cfg.LockTTL)
	reconciler := payments.NewReconciler(apptRepo, locker, logger)
	webhook := payments.NewWebhookHandler(cfg.WebhookSecret, reconciler, engineMetrics, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		ClinicRepo: clinicRepo,
		Webhook:    webhook,
		Metrics:    engineMetrics,
		PgPool:     pgPool,
		Redis:      rdb,
		Logger:     logger,
		Env:        cfg.Env,
		Version:    version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(level).With().Timestamp().Str("service", "api-server").Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).With().Timestamp().Str("service", "api-server").Logger()
}
