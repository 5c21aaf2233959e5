package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cora-hq/cora/internal/app"
	"github.com/cora-hq/cora/internal/config"
	"github.com/cora-hq/cora/pkg/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("CORA_CONFIG"), "path to a YAML config file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run returns the process exit code so deferred cleanup runs before exiting.
func run(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	// Setup structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		slog.Error("Failed to initialize server", "error", err)
		return 1
	}
	defer a.Close()

	slog.Info("CORA server starting",
		"address", cfg.Server.Addr(),
		"environment", cfg.Server.Environment,
		"version", app.Version,
	)
	if err := a.Run(ctx); err != nil {
		slog.Error("Server failed", "error", err)
		return 1
	}
	slog.Info("Server stopped")
	return 0
}
