package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikeyg42/vehicle-security/internal/config"
	"github.com/mikeyg42/vehicle-security/internal/logging"
	"github.com/mikeyg42/vehicle-security/internal/validate"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to the YAML configuration file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	noHardware := flag.Bool("no-hardware", false, "run without GPIO sensors and status LED")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.HTTP.ListenAddr = *addr
	}
	if *noHardware {
		cfg.NoHardware = true
	}
	if err := validate.ValidateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create application", zap.Error(err))
	}

	logger.Info("Vehicle security starting",
		zap.String("system_id", cfg.SystemID),
		zap.String("addr", cfg.HTTP.ListenAddr),
		zap.Bool("no_hardware", cfg.NoHardware))

	runErr := app.Run(ctx)
	if runErr != nil {
		logger.Error("Application stopped", zap.Error(runErr))
	} else {
		logger.Info("Shutdown signal received")
	}

	if err := app.Shutdown(cfg.HTTP.ShutdownTimeout); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
	if runErr != nil {
		os.Exit(1)
	}
}
