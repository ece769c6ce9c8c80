package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"evovault/config"
	"evovault/core/reconcile"
	"evovault/core/session"
	"evovault/core/wallet"
	"evovault/observability"
	"evovault/observability/logging"
	telemetry "evovault/observability/otel"
	"evovault/services/vaultapi"
	"evovault/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("vaultd failed: %v", err)
	}
}

func run() error {
	var cfgPath, logLevel string
	flag.StringVar(&cfgPath, "config", "evovault.toml", "path to vaultd configuration (.toml or .yaml)")
	flag.StringVar(&logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	env := cfg.Env
	if fromEnv := strings.TrimSpace(os.Getenv("EVOVAULT_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger := logging.Setup("vaultd", env, logging.WithLevel(logging.ParseLevel(logLevel)))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("vaultd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	dsn, err := storage.ResolveDSN(cfg.Database)
	if err != nil {
		return fmt.Errorf("resolve database: %w", err)
	}
	if !strings.Contains(dsn, "://") && !strings.HasPrefix(strings.TrimSpace(cfg.Database), "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	metrics := observability.Vault()
	store, err := storage.Open(dsn, storage.WithLogger(logger), storage.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	reconcilerOpts := []reconcile.Option{reconcile.WithLogger(logger), reconcile.WithMetrics(metrics)}
	if cfg.LenientUpdates {
		reconcilerOpts = append(reconcilerOpts, reconcile.WithLenientUpdates())
	}
	reconciler, err := reconcile.New(store, reconcilerOpts...)
	if err != nil {
		return fmt.Errorf("init reconciler: %w", err)
	}

	sessions := session.NewRegistry(
		session.WithLogger(logger),
		session.WithMetrics(metrics),
		session.WithQuery(cfg.Query()),
	)
	defer sessions.Close()
	if _, err := sessions.Get(cfg.NetworkID()); err != nil {
		return fmt.Errorf("open session: %w", err)
	}

	server, err := vaultapi.New(vaultapi.Config{
		Identities: reconciler,
		Sessions:   sessions,
		Wallets:    wallet.NewSet(),
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(server, "vaultd"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("vaultd listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("network", cfg.NetworkID().String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("vaultd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
