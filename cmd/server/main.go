package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/meshbridge/internal/infrastructure/server"
)

func main() {
	manifest := flag.String("manifest", "", "Bundle manifest (overrides BRIDGE_MANIFEST)")
	port := flag.String("port", "", "Listen port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *manifest != "" {
		cfg.Bridge.Manifest = *manifest
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	// Without an active embedded server there is nothing to bridge to.
	if err := srv.Activate(ctx); err != nil {
		logger.Error("Activation failed", zap.Error(err))
		srv.Close(context.Background())
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
