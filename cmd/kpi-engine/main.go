package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/engine/streamaggregator"
	"Go2NetKPI/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	flag.Parse()

	logger.Infof("Starting kpi-engine...")

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(cfg.Log.Level)
	if len(cfg.Log.Outputs) > 0 {
		if err := logger.SetOutput(cfg.Log.Outputs); err != nil {
			logger.Fatalf("Failed to open log outputs %v: %v", cfg.Log.Outputs, err)
		}
	}
	defer logger.Sync()
	logger.Infof("Configuration loaded successfully.")

	// 2. Initialize a new StreamAggregator
	streamAgg, err := streamaggregator.NewStreamAggregator(cfg)
	if err != nil {
		logger.Fatalf("Failed to create stream aggregator: %v", err)
	}

	horizon, err := cfg.Sampler.HorizonDuration()
	if err != nil {
		_ = streamAgg.Stop()
		logger.Fatalf("Invalid sampler horizon: %v", err)
	}

	// 3. Start the aggregator. A failed start has already finalized the logs.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := streamAgg.Start(ctx); err != nil {
		logger.Fatalf("Failed to start stream aggregator: %v", err)
	}

	// 4. Wait for a shutdown signal, or the horizon if one is set
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var deadline <-chan time.Time
	if horizon > 0 {
		timer := time.NewTimer(horizon)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-sigChan:
		logger.Infof("Shutdown signal received, stopping aggregator...")
	case <-deadline:
		logger.Infof("Horizon reached, stopping aggregator...")
	}

	if err := streamAgg.Stop(); err != nil {
		logger.Errorf("Failed to finalize KPI logs: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Infof("Shutdown complete, run %s.", streamAgg.Manager().RunID())
}
