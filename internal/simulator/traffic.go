package simulator

import (
	"math/rand"
	"time"

	"Go2NetKPI/internal/model"
)

// ProtocolUDP is the IP protocol number carried by generated flows.
const ProtocolUDP = 17

// Link delays every packet by Delay plus a uniform jitter in [0, Jitter)
// and drops it with probability LossRate.
type Link struct {
	Delay    time.Duration
	Jitter   time.Duration
	LossRate float64
	rng      *rand.Rand
}

// NewLink returns a link drawing from a generator seeded with seed.
func NewLink(delay, jitter time.Duration, lossRate float64, seed int64) *Link {
	return &Link{Delay: delay, Jitter: jitter, LossRate: lossRate, rng: rand.New(rand.NewSource(seed))}
}

// Transit returns the delay of the next packet, or lost=true if it is dropped.
func (l *Link) Transit() (delay time.Duration, lost bool) {
	if l.LossRate > 0 && l.rng.Float64() < l.LossRate {
		return 0, true
	}
	delay = l.Delay
	if l.Jitter > 0 {
		delay += time.Duration(l.rng.Int63n(int64(l.Jitter)))
	}
	return delay, false
}

// UDPClient sends fixed-size packets at a constant interval between Start
// and Stop, up to MaxPackets (0 means unlimited).
type UDPClient struct {
	Name       string
	Flow       model.FiveTuple
	PacketSize int
	Interval   time.Duration
	MaxPackets uint64
	Start      time.Duration
	Stop       time.Duration

	sent uint64
}

// Sent returns the number of packets sent so far.
func (c *UDPClient) Sent() uint64 {
	return c.sent
}

// Install schedules the client's first packet on the loop.
func (c *UDPClient) Install(loop *EventLoop, monitor *FlowMonitor, link *Link) {
	loop.ScheduleAt(c.Start, func() { c.send(loop, monitor, link) })
}

func (c *UDPClient) send(loop *EventLoop, monitor *FlowMonitor, link *Link) {
	now := loop.Now()
	if c.Stop > 0 && now >= c.Stop {
		return
	}
	if c.MaxPackets > 0 && c.sent >= c.MaxPackets {
		return
	}

	uid := monitor.SendPacket(c.Flow, c.PacketSize, now)
	c.sent++
	if delay, lost := link.Transit(); !lost {
		loop.Schedule(delay, func() { monitor.ReceivePacket(uid, loop.Now()) })
	}

	if c.Interval > 0 {
		loop.Schedule(c.Interval, func() { c.send(loop, monitor, link) })
	}
}
