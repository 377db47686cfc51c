package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/engine/manager"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
	"Go2NetKPI/internal/simulator"
	"Go2NetKPI/pkg/pcap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	pcapPath := flag.String("pcap", "", "Replay this capture instead of the synthetic slice traffic.")
	replayStart := flag.Duration("replay-start", time.Second, "Run time at which the first captured packet is replayed.")
	horizon := flag.Duration("horizon", 0, "Override sampler.horizon.")
	variant := flag.String("variant", "", "Override sampler.variant (basic or extended).")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	if *horizon > 0 {
		cfg.Sampler.Horizon = horizon.String()
	}
	if *variant != "" {
		cfg.Sampler.Variant = *variant
		if err := cfg.Validate(); err != nil {
			logger.Fatalf("Invalid -variant: %v", err)
		}
	}
	logger.SetLevel(cfg.Log.Level)
	if len(cfg.Log.Outputs) > 0 {
		if err := logger.SetOutput(cfg.Log.Outputs); err != nil {
			logger.Fatalf("Failed to open log outputs %v: %v", cfg.Log.Outputs, err)
		}
	}
	defer logger.Sync()

	end, err := cfg.Sampler.HorizonDuration()
	if err != nil {
		logger.Fatalf("Invalid horizon: %v", err)
	}
	if end <= 0 {
		logger.Fatalf("A discrete-event run needs a positive sampler.horizon")
	}

	// 2. Build the traffic: synthetic slices or a replayed capture
	var loop *simulator.EventLoop
	var source model.FlowStatsSource
	if *pcapPath == "" {
		sim, err := simulator.New(cfg.Simulation)
		if err != nil {
			logger.Fatalf("Failed to build simulation: %v", err)
		}
		loop, source = sim.Loop, sim
	} else {
		reader, err := pcap.NewReader(*pcapPath)
		if err != nil {
			logger.Fatalf("Failed to open pcap file: %v", err)
		}
		defer reader.Close()

		loop = simulator.NewEventLoop()
		monitor := simulator.NewFlowMonitor(0)
		if err := reader.Replay(loop, monitor, *replayStart); err != nil {
			logger.Fatalf("Failed to replay '%s': %v", *pcapPath, err)
		}
		source = monitor
		logger.Infof("Replaying packets from '%s' from %s", *pcapPath, *replayStart)
	}

	// 3. The stop event is queued before any tick, so a tick falling on the
	// horizon does not run.
	loop.ScheduleAt(end, loop.Stop)

	mgr, err := manager.NewManager(cfg, source, loop)
	if err != nil {
		logger.Fatalf("Failed to create manager: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		if finErr := mgr.Finalize(); finErr != nil {
			logger.Errorf("Failed to finalize KPI logs: %v", finErr)
		}
		logger.Fatalf("Failed to start manager: %v", err)
	}

	// 4. Ctrl-C ends the run early; the logs are still finalized.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Infof("Shutdown signal received, stopping simulation...")
		loop.Stop()
	}()

	started := time.Now()
	loop.Run(end)
	signal.Stop(sigChan)
	logger.Infof("Simulation ended at run time %s after %s", loop.Now(), time.Since(started).Round(time.Millisecond))

	// 5. Finalize
	if err := mgr.Finalize(); err != nil {
		logger.Fatalf("Failed to finalize KPI logs: %v", err)
	}
	if err := mgr.Err(); err != nil {
		logger.Errorf("%d ticks failed, first failure: %v", mgr.FailedTicks(), err)
		logger.Sync()
		os.Exit(1)
	}
}
