package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/e7canasta/hmd-timewarp/internal/config"
)

const defaultConfigPath = "config/warpd.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (.yaml or .toml)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting warpd",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(cfg)
	if err != nil {
		slog.Error("failed to create warpd service", "error", err)
		os.Exit(1)
	}

	// Run returns on signal or on a control plane shutdown command
	if err := svc.Run(ctx); err != nil {
		slog.Error("service error", "error", err)
	} else if ctx.Err() != nil {
		slog.Info("received shutdown signal")
	} else {
		slog.Info("shutdown requested via control plane")
	}
	stop()

	timeout := time.Duration(cfg.ShutdownTimeoutS) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err, "timeout", timeout)
		os.Exit(1)
	}
	slog.Info("warpd stopped")
}
