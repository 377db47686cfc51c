package simulator

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"Go2NetKPI/internal/config"
	"Go2NetKPI/internal/logger"
	"Go2NetKPI/internal/model"
)

// Simulation wires the configured UDP clients to one link and one monitor.
type Simulation struct {
	Loop    *EventLoop
	Monitor *FlowMonitor
	Link    *Link
	Clients []*UDPClient
}

// New builds a simulation from configuration. No events run until Run.
func New(cfg config.SimulationConfig) (*Simulation, error) {
	maxDelay, err := config.ParseDuration("simulation.max_delay", cfg.MaxDelay, DefaultMaxDelay)
	if err != nil {
		return nil, err
	}
	delay, err := config.ParseDuration("simulation.link.delay", cfg.Link.Delay, 0)
	if err != nil {
		return nil, err
	}
	jitter, err := config.ParseDuration("simulation.link.jitter", cfg.Link.Jitter, 0)
	if err != nil {
		return nil, err
	}
	if cfg.Link.LossRate < 0 || cfg.Link.LossRate > 1 {
		return nil, errors.Errorf("simulation.link.loss_rate must be within [0, 1], got %g", cfg.Link.LossRate)
	}

	sim := &Simulation{
		Loop:    NewEventLoop(),
		Monitor: NewFlowMonitor(maxDelay),
		Link:    NewLink(delay, jitter, cfg.Link.LossRate, cfg.Seed),
	}

	for i, def := range cfg.Flows {
		client, err := newClient(def)
		if err != nil {
			return nil, errors.Wrapf(err, "flow %d (%s)", i, def.Name)
		}
		client.Install(sim.Loop, sim.Monitor, sim.Link)
		sim.Clients = append(sim.Clients, client)
		logger.Infof("Simulation: %s client %s -> %s:%d, %d B every %s from %s to %s",
			client.Name, client.Flow.SrcIP, client.Flow.DstIP, client.Flow.DstPort,
			client.PacketSize, client.Interval, client.Start, client.Stop)
	}
	return sim, nil
}

func newClient(def config.FlowDef) (*UDPClient, error) {
	src, dst := net.ParseIP(def.Src), net.ParseIP(def.Dst)
	if src == nil || dst == nil {
		return nil, errors.Errorf("invalid addresses src=%q dst=%q", def.Src, def.Dst)
	}
	if def.PacketSize <= 0 {
		return nil, errors.Errorf("packet_size must be positive, got %d", def.PacketSize)
	}
	interval, err := config.ParseDuration("interval", def.Interval, 0)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, errors.New("interval must be a positive duration")
	}
	start, err := config.ParseDuration("start", def.Start, 0)
	if err != nil {
		return nil, err
	}
	stop, err := config.ParseDuration("stop", def.Stop, 0)
	if err != nil {
		return nil, err
	}
	if stop > 0 && stop <= start {
		return nil, errors.Errorf("stop (%s) must be after start (%s)", stop, start)
	}
	return &UDPClient{
		Name: def.Name,
		Flow: model.FiveTuple{
			SrcIP:    normalize(src),
			DstIP:    normalize(dst),
			SrcPort:  def.SrcPort,
			DstPort:  def.DstPort,
			Protocol: ProtocolUDP,
		},
		PacketSize: def.PacketSize,
		Interval:   interval,
		MaxPackets: def.MaxPackets,
		Start:      start,
		Stop:       stop,
	}, nil
}

// FlowStats runs the lost-packet check and returns the monitor's stats.
// It implements model.FlowStatsSource.
func (s *Simulation) FlowStats() map[uint32]model.FlowStats {
	s.Monitor.CheckForLostPackets(s.Loop.Now())
	return s.Monitor.FlowStats()
}

// Run advances the simulation to horizon.
func (s *Simulation) Run(horizon time.Duration) {
	start := time.Now()
	s.Loop.Run(horizon)
	logger.Infof("Simulation: reached %s in %s, %d flows, %d events pending",
		s.Loop.Now(), time.Since(start).Round(time.Millisecond), s.Monitor.FlowCount(), s.Loop.Pending())
	for _, c := range s.Clients {
		logger.Infof("Simulation: %s client sent %d packets", c.Name, c.Sent())
	}
}

// normalize shortens IPv4 addresses to their 4-byte form.
func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}
