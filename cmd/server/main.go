// Package main - Entry point for the bundle pricing server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"bundle-pricing/internal/app"
	"bundle-pricing/internal/config"
	"bundle-pricing/internal/logging"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "pricing.json", "Path to config file")
	addr := flag.String("addr", "", "Server address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	config.Set(cfg)

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logging.Logger)
	if err != nil {
		logging.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	logging.Info("bundle pricing server starting",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("strategy_source", cfg.Strategy.Source),
		zap.String("catalog_source", cfg.Catalog.Source),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.String("cache_backend", cfg.Cache.Backend),
	)

	if err := a.Serve(ctx, version); err != nil {
		logging.Error("server stopped with error", zap.Error(err))
		a.Close()
		os.Exit(1)
	}
}
