// Package main provides the entry point for the book download bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/walktheearth/bookdlbot/internal/bot"
	"github.com/walktheearth/bookdlbot/internal/config"
	"github.com/walktheearth/bookdlbot/internal/logging"
	"github.com/walktheearth/bookdlbot/internal/metrics"
	"github.com/walktheearth/bookdlbot/internal/results"
	"github.com/walktheearth/bookdlbot/internal/retry"
	"github.com/walktheearth/bookdlbot/internal/session"
	"github.com/walktheearth/bookdlbot/internal/telegram"
	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 10 * time.Second

func main() {
	os.Exit(runMain())
}

func runMain() int {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down gracefully")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", zap.Error(err))
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("bookdlbot starting")

	m := metrics.New()

	sessions, err := session.NewStore(cfg.Bot.MaxSessions)
	if err != nil {
		return fmt.Errorf("create session store: %w", err)
	}
	resultCache := results.NewCache(cfg.Bot.ResultTTL, cfg.Bot.ResultPurge)

	adapter, err := telegram.New(cfg.Telegram.Token, logger.Named("telegram"))
	if err != nil {
		return fmt.Errorf("create telegram adapter: %w", err)
	}

	connect := libraryFactory(cfg, logger.Named("zlibrary"), m)

	dispatcher := bot.New(adapter, sessions, resultCache, connect,
		bot.WithLogger(logger.Named("bot")),
		bot.WithMetrics(m),
		bot.WithPageSize(cfg.Bot.PageSize),
		bot.WithRepoURL(cfg.Bot.RepoURL),
	)
	adapter.SetDispatcher(dispatcher)

	metricsSrv := startMetricsServer(cfg.Metrics.ListenAddr, m, logger)

	logger.Info("bookdlbot started, polling for updates")
	err = adapter.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()
	if metricsSrv != nil {
		if shutdownErr := metricsSrv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("metrics server shutdown", zap.Error(shutdownErr))
		}
	}

	logger.Info("shutdown complete")
	return err
}

// libraryFactory builds the per-session library handle constructor. Each
// session gets its own client; the retry policy, rate limit, and metrics
// hooks are shared configuration.
func libraryFactory(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) func() session.Library {
	policy := retry.Policy{
		MaxAttempts: cfg.Library.RetryAttempts,
		Delay:       cfg.Library.RetryDelay,
	}
	clientCfg := zlibrary.Config{
		BaseURL:     cfg.Library.BaseURL,
		Email:       cfg.Library.Email,
		Password:    cfg.Library.Password,
		CallTimeout: cfg.Library.CallTimeout,
	}

	return func() session.Library {
		limiter := zlibrary.NewTokenBucket(cfg.Library.RateLimitBurst, 1, cfg.Library.RateLimitRefill)
		return zlibrary.NewClient(clientCfg, policy, logger,
			zlibrary.WithRateLimiter(limiter),
			zlibrary.WithRetryHook(func(err error, _ time.Duration) {
				m.RecordRetry()
				logger.Debug("retrying remote call", zap.Error(err))
			}),
		)
	}
}

// startMetricsServer exposes /metrics when an address is configured.
func startMetricsServer(addr string, m *metrics.Metrics, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}
