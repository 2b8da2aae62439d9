package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/e7canasta/orion-people-counter/internal/config"
)

const (
	defaultConfigPath = "config/counter.yaml"
	serviceName       = "people-counter"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty: defaults and environment only)")
	envFile := flag.String("env", ".env", "Path to dotenv file (missing file is ignored)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load configuration", "path", path, "error", err)
		os.Exit(1)
	}

	slog.Info("starting people counter service",
		"config", path,
		"addr", cfg.Server.Addr,
		"history_backend", cfg.History.Backend,
		"debug", *debug,
	)

	// Root context: cancelled on shutdown, every running job is cancelled with it
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	svc, err := newService(ctx, cfg)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- svc.server.ListenAndServe()
	}()
	slog.Info("http server listening", "addr", cfg.Server.Addr)

	var serveErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case serveErr = <-errChan:
		if !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("http server failed", "error", serveErr)
		}
	}

	// Graceful shutdown
	slog.Info("shutting down gracefully", "timeout", cfg.Server.ShutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		os.Exit(1)
	}
	slog.Info("people counter service stopped successfully")
}
