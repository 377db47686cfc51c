package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/probe"
	"Go2NetKPI/internal/simulator"
)

func main() {
	// --- Command-Line Flag Parsing ---
	mode := flag.String("mode", "pub", "Operating mode: 'pub' to run the slice traffic and publish counters, 'sub' to subscribe and print them.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the YAML configuration file.")
	period := flag.Duration("period", 500*time.Millisecond, "How often counters are published in pub mode.")
	flag.Parse()

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

	// --- Mode Dispatch ---
	switch *mode {
	case "pub":
		runProbe(cfg, *period)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runProbe runs the synthetic traffic paced by the wall clock and publishes
// every flow's counters each period.
func runProbe(cfg *config.Config, period time.Duration) {
	if period <= 0 {
		logger.Fatalf("-period must be positive")
	}
	sim, err := simulator.New(cfg.Simulation)
	if err != nil {
		logger.Fatalf("Failed to build simulation: %v", err)
	}

	pub, err := probe.NewCounterPublisher(cfg.Probe)
	if err != nil {
		logger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	horizon, _ := cfg.Sampler.HorizonDuration()
	logger.Infof("Publishing counters of %d flows to '%s' every %s", len(sim.Clients), cfg.Probe.Subject, period)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	start := time.Now()
	published := 0
	for {
		select {
		case <-ticker.C:
			now := time.Since(start)
			if horizon > 0 && now > horizon {
				now = horizon
			}
			sim.Loop.Run(now)
			n, err := pub.PublishAll(sim.FlowStats())
			if err != nil {
				logger.Errorf("Failed to publish counters: %v", err)
			}
			published += n
			if horizon > 0 && now >= horizon {
				logger.Infof("Horizon %s reached, %d counter updates published", horizon, published)
				return
			}
		case <-sigChan:
			logger.Infof("Shutdown signal received, %d counter updates published", published)
			return
		}
	}
}

// runSubscriber prints every flow's latest counters once a second.
func runSubscriber(cfg *config.Config) {
	sub, err := probe.NewCounterSubscriber(cfg.Probe)
	if err != nil {
		logger.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	if err := sub.Start(); err != nil {
		logger.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for id, st := range sub.FlowStats() {
				logger.Infof("Flow %d %s -> %s:%d tx=%d rx=%d lost=%d", id,
					st.Identity.SrcAddr, st.Identity.DstAddr, st.Identity.DstPort,
					st.Counters.TxPackets, st.Counters.RxPackets, st.Counters.LostPackets)
			}
		case <-sigChan:
			received, rejected := sub.Received()
			logger.Infof("Shutdown signal received, %d updates received, %d dropped", received, rejected)
			return
		}
	}
}
