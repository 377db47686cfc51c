package main

import (
	"flag"
	"net"
	"os"
	"time"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/pkg/pcap"
)

// Ethernet, IPv4 and UDP headers; the configured packet size is the IP
// packet, as the flow monitor counts it.
const udpOverhead = 20 + 8

func main() {
	outputFile := flag.String("o", "slices.pcap", "Output pcap file path")
	configPath := flag.String("config", "", "Take the flows from this config instead of the default slices")
	duration := flag.Duration("d", 0, "Cap every flow at this much traffic (0 uses each flow's start/stop)")
	flag.Parse()

	flows := config.DefaultFlows()
	if *configPath != "" {
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			logger.Fatalf("Failed to load config: %v", err)
		}
		flows = cfg.Simulation.Flows
	}

	var specs []pcap.FlowSpec
	for _, def := range flows {
		spec, err := flowSpec(def, *duration)
		if err != nil {
			logger.Fatalf("Flow %s: %v", def.Name, err)
		}
		specs = append(specs, spec)
		logger.Infof("Flow %s: %d packets of %d B to %s:%d", def.Name, spec.Count, def.PacketSize, def.Dst, def.DstPort)
	}

	f, err := os.Create(*outputFile)
	if err != nil {
		logger.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	n, err := pcap.Generate(f, time.Now().Truncate(time.Second), specs)
	if err != nil {
		logger.Fatalf("Failed after %d packets: %v", n, err)
	}
	logger.Infof("Successfully generated %d packets in %s", n, *outputFile)
}

func flowSpec(def config.FlowDef, capAt time.Duration) (pcap.FlowSpec, error) {
	interval, err := config.ParseDuration("interval", def.Interval, 0)
	if err != nil {
		return pcap.FlowSpec{}, err
	}
	start, err := config.ParseDuration("start", def.Start, 0)
	if err != nil {
		return pcap.FlowSpec{}, err
	}
	stop, err := config.ParseDuration("stop", def.Stop, 0)
	if err != nil {
		return pcap.FlowSpec{}, err
	}
	if capAt > 0 && (stop == 0 || stop > start+capAt) {
		stop = start + capAt
	}

	count := def.MaxPackets
	if interval > 0 && stop > start {
		if window := uint64((stop-start)/interval) + 1; count == 0 || window < count {
			count = window
		}
	}
	payload := def.PacketSize - udpOverhead
	if payload < 0 {
		payload = 0
	}
	return pcap.FlowSpec{
		Src:         net.ParseIP(def.Src),
		Dst:         net.ParseIP(def.Dst),
		SrcPort:     def.SrcPort,
		DstPort:     def.DstPort,
		PayloadSize: payload,
		Offset:      start,
		Interval:    interval,
		Count:       int(count),
	}, nil
}
