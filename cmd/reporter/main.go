package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/exposure-reporter/internal/attestation"
	"github.com/p-blackswan/exposure-reporter/internal/backoff"
	"github.com/p-blackswan/exposure-reporter/internal/config"
	"github.com/p-blackswan/exposure-reporter/internal/exchange"
	"github.com/p-blackswan/exposure-reporter/internal/exposure"
	"github.com/p-blackswan/exposure-reporter/internal/health"
	"github.com/p-blackswan/exposure-reporter/internal/kpi"
	"github.com/p-blackswan/exposure-reporter/internal/metrics"
	"github.com/p-blackswan/exposure-reporter/internal/ops"
	"github.com/p-blackswan/exposure-reporter/internal/reporter"
	"github.com/p-blackswan/exposure-reporter/internal/retry"
	"github.com/p-blackswan/exposure-reporter/internal/store"
	"github.com/p-blackswan/exposure-reporter/internal/trigger"
	"github.com/p-blackswan/exposure-reporter/pkg/tokenstore"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("http_addr", cfg.HTTPAddr).
		Dur("min_interval", cfg.ReportMinInterval).
		Dur("trigger_interval", cfg.TriggerInterval).
		Bool("ops_auth", cfg.OpsAuthEnabled()).
		Msg("starting exposure reporter")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	db, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open state store")
	}
	defer db.Close()

	tokens := tokenstore.NewMemoryStore()
	m := metrics.New()

	provider := attestation.NewCachingProvider(
		attestation.FileMinter{Path: cfg.AttestationTokenFile},
		tokens,
		cfg.AttestationCacheTTL,
		logger,
	)
	exchangeClient := exchange.NewClient(cfg.TokenVerifyURL, cfg.HTTPTimeout, cfg.AnalyticsTokenTTL, logger)
	kpiClient := kpi.NewClient(cfg.KPISubmitURL, cfg.HTTPTimeout, logger)
	collector := exposure.NewCollector(exposure.FileSource{Path: cfg.ExposureStatusFile}, db, logger)

	rep := reporter.New(reporterConfig(cfg), reporter.Deps{
		State:       db,
		History:     db,
		Attestation: provider,
		Exchange:    exchangeClient,
		Collector:   collector,
		Submitter:   kpiClient,
		Tokens:      tokens,
		Metrics:     m,
	}, logger)

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(db))
	// two missed windows before the agent counts as stale
	checker.Register("last_success", health.StalenessCheck(db.LastRun, 2*cfg.ReportMinInterval+cfg.TriggerInterval, nil))

	opsServer := ops.NewServer(ops.ServerConfig{
		ListenAddr:  cfg.HTTPAddr,
		APIKey:      cfg.OpsAPIKey,
		MinInterval: cfg.ReportMinInterval,
		BaseContext: ctx,
	}, rep, db, checker, m, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := opsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("ops API server error")
			cancel()
		}
	}()

	trig := trigger.New(trigger.Config{
		Interval:  cfg.TriggerInterval,
		Retention: cfg.HistoryRetention,
	}, rep, db, tokens, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := trig.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("trigger error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
		logger.Warn().Msg("shutting down after component failure")
	}

	// Cancel context to signal all goroutines
	cancel()

	if err := opsServer.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("ops API server shutdown error")
	}

	// Wait for in-flight work to complete
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("exposure reporter stopped")
}

func reporterConfig(cfg *config.Config) reporter.Config {
	rc := reporter.DefaultConfig()
	rc.MinInterval = cfg.ReportMinInterval
	rc.MaxExpiredRetries = cfg.MaxExpiredRetries
	rc.VerifyRetry = retry.Config{
		MaxRetries: cfg.VerifyRetries,
		Policy:     retry.Fixed(cfg.VerifyRetryDelay),
	}
	rc.SubmitRetry = retry.Config{
		MaxRetries: cfg.SubmitRetries,
		Policy: retry.Exponential(backoff.Spec{
			Base:     cfg.BackoffBase,
			MinDelay: cfg.BackoffMinDelay,
			MaxDelay: cfg.BackoffMaxDelay,
		}),
	}
	return rc
}
