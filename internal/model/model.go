package model

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// FiveTuple represents the 5-tuple of a network packet.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Key returns a stable map key for the tuple.
func (ft FiveTuple) Key() string {
	return strings.Join([]string{
		ft.SrcIP.String(),
		ft.DstIP.String(),
		strconv.Itoa(int(ft.SrcPort)),
		strconv.Itoa(int(ft.DstPort)),
		strconv.Itoa(int(ft.Protocol)),
	}, "-")
}

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
}

// FlowIdentity identifies a flow for the whole run. It never changes once
// the classifier has assigned the id.
type FlowIdentity struct {
	FlowID   uint32
	SrcAddr  net.IP
	DstAddr  net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// FlowCounters are cumulative since the first packet of the flow and never
// decrease. Times are offsets from the start of the run.
type FlowCounters struct {
	TxBytes     uint64
	TxPackets   uint64
	RxBytes     uint64
	RxPackets   uint64
	LostPackets uint64
	DelaySum    time.Duration
	FirstTx     time.Duration
	LastRx      time.Duration
}

// FlowStats pairs a flow's identity with its current counters.
type FlowStats struct {
	Identity FlowIdentity
	Counters FlowCounters
}

// DerivedMetrics are recomputed from FlowCounters on every tick.
// JitterMs and LossRate are only meaningful when Extended is set.
type DerivedMetrics struct {
	LatencyMs      float64
	ThroughputMbps float64
	JitterMs       float64
	LossRate       float64
	Extended       bool
}

// LogRecord is one flow's KPIs at one tick.
type LogRecord struct {
	Identity  FlowIdentity
	Metrics   DerivedMetrics
	Tick      time.Duration // run time of the tick
	Timestamp time.Time     // wall time of the tick
}
